// Package logx is the debug-console logger. Lines carry the originating
// service name and one of three severity prefixes:
//
//	adc: armed external back-end
//	stream [WARNING]: send failed, dropping buffer
//	charger [>>! ERROR !<<]: ping timeout
package logx

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.Mutex
	logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// SetOutput redirects all loggers, e.g. to a UART writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// UseRotatingFile tees logging into a size-rotated file next to stderr.
func UseRotatingFile(path string, maxSizeMB, maxBackups int) {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	SetOutput(io.MultiWriter(os.Stderr, sink))
}

// Logger tags every line with a service name.
type Logger struct {
	svc string
}

// New returns the logger for one service.
func New(service string) *Logger { return &Logger{svc: service} }

func (l *Logger) Infof(format string, args ...any) {
	logger.Printf(l.svc+": "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	logger.Printf(l.svc+" [WARNING]: "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	logger.Printf(l.svc+" [>>! ERROR !<<]: "+format, args...)
}

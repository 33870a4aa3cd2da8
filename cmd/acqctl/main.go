// acqctl is a line client for the instrument's control port. With command
// words it sends one request and prints the response; without, it reads
// requests from stdin until EOF.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "192.168.8.2:5000", "control service address")
	timeout := flag.Duration("timeout", 3*time.Second, "dial and response timeout")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "acqctl:", err)
		os.Exit(1)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if flag.NArg() > 0 {
		if err := roundTrip(conn, r, strings.Join(flag.Args(), " "), *timeout); err != nil {
			fmt.Fprintln(os.Stderr, "acqctl:", err)
			os.Exit(1)
		}
		return
	}

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if err := roundTrip(conn, r, line, *timeout); err != nil {
			fmt.Fprintln(os.Stderr, "acqctl:", err)
			os.Exit(1)
		}
	}
}

func roundTrip(conn net.Conn, r *bufio.Reader, line string, timeout time.Duration) error {
	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
		return err
	}
	resp, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print(strings.TrimRight(resp, "\r\n"), "\n")
	return nil
}

package adc

// SignalSource supplies raw conversion words for both channels, in the byte
// order the front-end hardware delivers them. The platform package provides
// deterministic simulation sources; an on-target build reads DMA memory.
type SignalSource interface {
	Next() (ch1, ch2 uint16)
}

package gauge

import (
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"
)

// Port is an open connection to the gauge. Close must unblock a pending Read.
type Port interface {
	io.ReadCloser
}

// PortConfig holds the line settings used when opening the gauge.
type PortConfig struct {
	BaudRate int `yaml:"baud_rate" json:"baudRate"`
}

// Opener opens the device at path.
type Opener func(path string, cfg PortConfig) (Port, error)

// OpenSerial opens path at 8N1 with RTS and DTR asserted. The gauge is a
// CDC-ACM device and only streams while DTR is high.
func OpenSerial(path string, cfg PortConfig) (Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: true,
			DTR: true,
		},
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("gauge: failed to open %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[gauge] reset input buffer on %s: %v", path, err)
	}
	log.Printf("[gauge] opened %s at %d baud", path, cfg.BaudRate)
	return port, nil
}

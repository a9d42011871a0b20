package gauge

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"sync"
)

// ConnState is the connection state of a Session.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transition is the outcome of one Poll.
type Transition int

const (
	NoChange Transition = iota
	BecameConnected
	BecameDisconnected
)

func (t Transition) String() string {
	switch t {
	case BecameConnected:
		return "connected"
	case BecameDisconnected:
		return "disconnected"
	default:
		return "no change"
	}
}

// Session owns the connection to the gauge and its read pipeline.
//
// Poll is the only thing that changes the connection state: it is expected to
// be called on a fixed interval and must not be called concurrently with
// itself. A read pipeline that dies between polls is noticed, and reported as
// a disconnection, on the next Poll.
type Session struct {
	discovery *Discovery
	open      Opener
	cfg       PortConfig

	readings chan float64

	mu    sync.Mutex
	state ConnState
	port  Port
	path  string
	stop  chan struct{} // closed to release the reader
	done  chan struct{} // closed when the reader exits

	closed bool
}

// NewSession creates a disconnected Session.
func NewSession(d *Discovery, open Opener, cfg PortConfig) *Session {
	if open == nil {
		open = OpenSerial
	}
	return &Session{
		discovery: d,
		open:      open,
		cfg:       cfg,
		readings:  make(chan float64, 64),
	}
}

// Readings delivers every successfully decoded diameter, in arrival order,
// across reconnections.
func (s *Session) Readings() <-chan float64 { return s.readings }

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the device path of the current connection, if any.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Poll re-enumerates the serial devices and connects or disconnects as
// needed. Enumeration failures are logged and treated as the device being
// absent for this poll; open failures are logged and leave the session
// disconnected so the next poll retries.
func (s *Session) Poll(ctx context.Context) Transition {
	if ctx.Err() != nil {
		return NoChange
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return NoChange
	}

	target, found, err := s.discovery.FindTarget()
	if err != nil {
		log.Printf("[gauge] discovery failed: %v", err)
		found = false
	}

	s.mu.Lock()
	state, path, done := s.state, s.path, s.done
	s.mu.Unlock()

	if state == Connected {
		switch {
		case !found:
			log.Printf("[gauge] %s no longer present", path)
		case target.Path != path:
			log.Printf("[gauge] device moved from %s to %s", path, target.Path)
		case isClosed(done):
			log.Printf("[gauge] read pipeline on %s stopped", path)
		default:
			return NoChange
		}
		s.disconnect()
		return BecameDisconnected
	}

	if !found {
		return NoChange
	}

	s.setState(Connecting)
	port, err := s.open(target.Path, s.cfg)
	if err != nil {
		log.Printf("[gauge] connection error: %v", err)
		s.setState(Disconnected)
		return NoChange
	}

	stop := make(chan struct{})
	done = make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.state = Disconnected
		s.mu.Unlock()
		port.Close()
		log.Printf("[gauge] session closed while opening %s", target.Path)
		return NoChange
	}
	s.port = port
	s.path = target.Path
	s.stop = stop
	s.done = done
	s.state = Connected
	s.mu.Unlock()

	go s.readLoop(port, stop, done)
	log.Printf("[gauge] connected to %s (vid=%s pid=%s)", target.Path, target.VendorID, target.ProductID)
	return BecameConnected
}

// Close releases the port, if open. A closed session never connects again,
// even if a Poll is already opening the device.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.disconnect()
}

func (s *Session) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) disconnect() error {
	s.mu.Lock()
	port, stop := s.port, s.stop
	s.port = nil
	s.stop = nil
	s.path = ""
	s.state = Disconnected
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if port == nil {
		return nil
	}
	return port.Close()
}

// readLoop reads CRLF-delimited frames until the port fails or is closed.
func (s *Session) readLoop(port Port, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	sc := bufio.NewScanner(port)
	sc.Split(scanCRLF)
	for sc.Scan() {
		v, err := DecodeFrame(sc.Text())
		if err != nil {
			log.Printf("[gauge] dropped frame: %v", err)
			continue
		}
		select {
		case s.readings <- v:
		case <-stop:
			return
		}
	}

	select {
	case <-stop:
		// closed by disconnect
	default:
		if err := sc.Err(); err != nil {
			log.Printf("[gauge] read error: %v", err)
		} else {
			log.Printf("[gauge] port closed by device")
		}
	}
}

// scanCRLF is a bufio.SplitFunc for lines terminated by "\r\n". An
// unterminated tail at EOF is a partial frame and is discarded.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\r\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

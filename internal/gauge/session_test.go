package gauge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
)

// fakeBus is a serial bus where the gauge can be plugged in and out and
// whose opened ports are fed by the test.
type fakeBus struct {
	mu      sync.Mutex
	present bool
	listErr error
	openErr error
	opens   int
	writer  *io.PipeWriter
}

func (b *fakeBus) list() ([]*enumerator.PortDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	if !b.present {
		return []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil
	}
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "8036"},
	}, nil
}

func (b *fakeBus) open(path string, _ PortConfig) (Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.openErr != nil {
		return nil, b.openErr
	}
	pr, pw := io.Pipe()
	b.writer = pw
	return pr, nil
}

func (b *fakeBus) set(fn func(b *fakeBus)) {
	b.mu.Lock()
	fn(b)
	b.mu.Unlock()
}

func (b *fakeBus) send(t *testing.T, line string) {
	t.Helper()
	b.mu.Lock()
	w := b.writer
	b.mu.Unlock()
	if _, err := io.WriteString(w, line); err != nil {
		t.Fatalf("write to port: %v", err)
	}
}

func newTestSession(b *fakeBus) *Session {
	return NewSession(NewDiscovery("2341", "8036", b.list), b.open, PortConfig{BaudRate: 115200})
}

func nextReading(t *testing.T, s *Session) float64 {
	t.Helper()
	select {
	case v := <-s.Readings():
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reading")
		return 0
	}
}

func TestSessionConnectsOnceWhenDeviceAppears(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	s := newTestSession(bus)
	defer s.Close()

	if tr := s.Poll(ctx); tr != NoChange {
		t.Fatalf("poll with device absent = %v, want %v", tr, NoChange)
	}
	if s.State() != Disconnected {
		t.Fatalf("state = %v, want %v", s.State(), Disconnected)
	}

	bus.set(func(b *fakeBus) { b.present = true })
	if tr := s.Poll(ctx); tr != BecameConnected {
		t.Fatalf("poll with device present = %v, want %v", tr, BecameConnected)
	}
	for i := 0; i < 3; i++ {
		if tr := s.Poll(ctx); tr != NoChange {
			t.Fatalf("poll %d while connected = %v, want %v", i, tr, NoChange)
		}
	}
	if s.Path() != "/dev/ttyACM0" {
		t.Errorf("path = %q", s.Path())
	}
	if bus.opens != 1 {
		t.Errorf("opened %d times, want 1", bus.opens)
	}
}

func TestSessionDeliversDecodedReadings(t *testing.T) {
	bus := &fakeBus{present: true}
	s := newTestSession(bus)
	defer s.Close()

	if tr := s.Poll(context.Background()); tr != BecameConnected {
		t.Fatalf("poll = %v", tr)
	}

	bus.send(t, EncodeFrame(1, 7, 5)+"\r\n")
	bus.send(t, "0101\r\n") // malformed, dropped
	bus.send(t, EncodeFrame(1, 8, 0)+"\r\n")

	if v := nextReading(t, s); v != 1.75 {
		t.Errorf("first reading = %v, want 1.75", v)
	}
	if v := nextReading(t, s); v != 1.8 {
		t.Errorf("second reading = %v, want 1.8", v)
	}
	if s.State() != Connected {
		t.Errorf("state after malformed frame = %v, want %v", s.State(), Connected)
	}
}

func TestSessionFramesSplitAcrossReads(t *testing.T) {
	bus := &fakeBus{present: true}
	s := newTestSession(bus)
	defer s.Close()
	s.Poll(context.Background())

	frame := EncodeFrame(2, 8, 5) + "\r\n"
	bus.send(t, frame[:20])
	bus.send(t, frame[20:len(frame)-1])
	bus.send(t, frame[len(frame)-1:])

	if v := nextReading(t, s); v != 2.85 {
		t.Errorf("reading = %v, want 2.85", v)
	}
}

func TestSessionDisconnectsWhenDeviceRemoved(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{present: true}
	s := newTestSession(bus)
	s.Poll(ctx)

	bus.set(func(b *fakeBus) { b.present = false })
	if tr := s.Poll(ctx); tr != BecameDisconnected {
		t.Fatalf("poll after removal = %v, want %v", tr, BecameDisconnected)
	}
	if s.State() != Disconnected || s.Path() != "" {
		t.Errorf("state = %v path = %q after removal", s.State(), s.Path())
	}
	if _, err := io.WriteString(bus.writer, "x"); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write after disconnect = %v, want port closed", err)
	}
	if tr := s.Poll(ctx); tr != NoChange {
		t.Errorf("second poll after removal = %v, want %v", tr, NoChange)
	}
}

func TestSessionDisconnectsWhenReadPipelineDies(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{present: true}
	s := newTestSession(bus)
	defer s.Close()
	s.Poll(ctx)

	bus.writer.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		tr := s.Poll(ctx)
		if tr == BecameDisconnected {
			break
		}
		if tr != NoChange || time.Now().After(deadline) {
			t.Fatalf("poll = %v, never reported disconnection", tr)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The device is still enumerated, so the next poll reconnects.
	if tr := s.Poll(ctx); tr != BecameConnected {
		t.Errorf("poll after dead pipeline = %v, want %v", tr, BecameConnected)
	}
}

func TestSessionOpenFailureRetries(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{present: true, openErr: errors.New("permission denied")}
	s := newTestSession(bus)
	defer s.Close()

	if tr := s.Poll(ctx); tr != NoChange {
		t.Fatalf("poll with failing open = %v, want %v", tr, NoChange)
	}
	if s.State() != Disconnected {
		t.Fatalf("state = %v, want %v", s.State(), Disconnected)
	}

	bus.set(func(b *fakeBus) { b.openErr = nil })
	if tr := s.Poll(ctx); tr != BecameConnected {
		t.Fatalf("retry poll = %v, want %v", tr, BecameConnected)
	}
	if bus.opens != 2 {
		t.Errorf("opened %d times, want 2", bus.opens)
	}
}

func TestSessionEnumerationFailureIsSoft(t *testing.T) {
	bus := &fakeBus{present: true, listErr: errors.New("enumeration failed")}
	s := newTestSession(bus)
	defer s.Close()

	if tr := s.Poll(context.Background()); tr != NoChange {
		t.Fatalf("poll = %v, want %v", tr, NoChange)
	}
	if bus.opens != 0 {
		t.Errorf("opened %d times, want 0", bus.opens)
	}
}

func TestSessionCloseDuringOpen(t *testing.T) {
	bus := &fakeBus{present: true}
	entered := make(chan struct{})
	release := make(chan struct{})
	open := func(path string, cfg PortConfig) (Port, error) {
		close(entered)
		<-release
		return bus.open(path, cfg)
	}
	s := NewSession(NewDiscovery("2341", "8036", bus.list), open, PortConfig{})

	result := make(chan Transition, 1)
	go func() { result <- s.Poll(context.Background()) }()

	<-entered
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)

	if tr := <-result; tr != NoChange {
		t.Fatalf("poll finishing after Close = %v, want %v", tr, NoChange)
	}
	if s.State() != Disconnected {
		t.Errorf("state = %v, want %v", s.State(), Disconnected)
	}
	if _, err := io.WriteString(bus.writer, "x"); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write to port opened during Close = %v, want port closed", err)
	}
	if tr := s.Poll(context.Background()); tr != NoChange {
		t.Errorf("poll after Close = %v, want %v", tr, NoChange)
	}
	if bus.opens != 1 {
		t.Errorf("opened %d times, want 1", bus.opens)
	}
}

func TestSessionPollAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus := &fakeBus{present: true}
	s := newTestSession(bus)

	if tr := s.Poll(ctx); tr != NoChange {
		t.Errorf("poll on cancelled context = %v, want %v", tr, NoChange)
	}
}

func TestScanCRLF(t *testing.T) {
	tests := []struct {
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{"abc\r\ndef", false, 5, "abc"},
		{"abc\ndef", false, 0, ""},
		{"abc\r", false, 0, ""},
		{"partial", true, 7, ""},
		{"", true, 0, ""},
	}
	for _, tt := range tests {
		adv, tok, err := scanCRLF([]byte(tt.data), tt.atEOF)
		if err != nil {
			t.Fatalf("scanCRLF(%q): %v", tt.data, err)
		}
		if adv != tt.advance || string(tok) != tt.token {
			t.Errorf("scanCRLF(%q, %v) = %d, %q; want %d, %q", tt.data, tt.atEOF, adv, tok, tt.advance, tt.token)
		}
	}
}

package gauge

import (
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"
)

// DemoPath is the device path reported by the simulated gauge.
const DemoPath = "demo://gauge"

// DemoGauge simulates an attached gauge for development and testing. It
// enumerates as a USB device with the configured VID/PID and streams frames
// for a filament wandering around the nominal diameter.
type DemoGauge struct {
	VendorID  string
	ProductID string
	Nominal   float64       // mm
	Interval  time.Duration // between frames

	mu      sync.Mutex
	present bool
	t       float64
}

// NewDemoGauge creates a present demo gauge emitting ten frames a second.
func NewDemoGauge(vendorID, productID string, nominal float64) *DemoGauge {
	if nominal <= 0 {
		nominal = 1.75
	}
	return &DemoGauge{
		VendorID:  vendorID,
		ProductID: productID,
		Nominal:   nominal,
		Interval:  100 * time.Millisecond,
		present:   true,
	}
}

// SetPresent simulates plugging or unplugging the gauge.
func (d *DemoGauge) SetPresent(on bool) {
	d.mu.Lock()
	d.present = on
	d.mu.Unlock()
}

// List is a ListFunc reporting the demo gauge while it is present.
func (d *DemoGauge) List() ([]*enumerator.PortDetails, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.present {
		return nil, nil
	}
	return []*enumerator.PortDetails{{
		Name:         DemoPath,
		IsUSB:        true,
		VID:          d.VendorID,
		PID:          d.ProductID,
		SerialNumber: "DEMO0001",
		Product:      "Demo diameter gauge",
	}}, nil
}

// Open is an Opener that starts streaming simulated frames.
func (d *DemoGauge) Open(path string, _ PortConfig) (Port, error) {
	pr, pw := io.Pipe()
	go d.stream(pw)
	return pr, nil
}

func (d *DemoGauge) stream(w *io.PipeWriter) {
	tick := time.NewTicker(d.Interval)
	defer tick.Stop()
	for range tick.C {
		if _, err := io.WriteString(w, d.nextFrame()+"\r\n"); err != nil {
			return
		}
	}
}

func (d *DemoGauge) nextFrame() string {
	d.mu.Lock()
	d.t += d.Interval.Seconds()
	t := d.t
	d.mu.Unlock()

	// Slow drift plus extruder pulsing plus sensor noise
	v := d.Nominal + 0.03*math.Sin(t*0.2) + 0.01*math.Sin(t*3) + (rand.Float64()-0.5)*0.01
	if v < 0 {
		v = 0
	}
	hundredths := int(math.Round(v * 100))
	return EncodeFrame(hundredths/100, hundredths/10%10, hundredths%10)
}

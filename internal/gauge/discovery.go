package gauge

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Candidate is one serial device seen during enumeration.
type Candidate struct {
	Path         string `json:"path"`
	VendorID     string `json:"vendorId"`
	ProductID    string `json:"productId"`
	SerialNumber string `json:"serialNumber,omitempty"`
	IsUSB        bool   `json:"isUsb"`
}

// ListFunc enumerates attached serial ports.
type ListFunc func() ([]*enumerator.PortDetails, error)

// Discovery identifies the gauge among the attached serial devices by its
// USB vendor and product IDs.
type Discovery struct {
	VendorID  string
	ProductID string

	list ListFunc
}

// NewDiscovery creates a Discovery for the given VID/PID using the system
// enumerator. A nil list uses enumerator.GetDetailedPortsList.
func NewDiscovery(vendorID, productID string, list ListFunc) *Discovery {
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	return &Discovery{
		VendorID:  vendorID,
		ProductID: productID,
		list:      list,
	}
}

// ListCandidates returns every attached serial device.
func (d *Discovery) ListCandidates() ([]Candidate, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]Candidate, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		out = append(out, Candidate{
			Path:         p.Name,
			VendorID:     p.VID,
			ProductID:    p.PID,
			SerialNumber: p.SerialNumber,
			IsUSB:        p.IsUSB,
		})
	}
	return out, nil
}

// FindTarget returns the first candidate matching the configured VID/PID.
// Not finding the device is reported through ok, never as an error; err is
// only set when enumeration itself failed.
func (d *Discovery) FindTarget() (c Candidate, ok bool, err error) {
	cands, err := d.ListCandidates()
	if err != nil {
		return Candidate{}, false, err
	}
	for _, c := range cands {
		if d.Matches(c) {
			return c, true, nil
		}
	}
	return Candidate{}, false, nil
}

// Matches reports whether c is the target device. IDs are compared
// case-insensitively since platforms disagree on hex case.
func (d *Discovery) Matches(c Candidate) bool {
	return strings.EqualFold(c.VendorID, d.VendorID) && strings.EqualFold(c.ProductID, d.ProductID)
}

package gauge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frame layout. The gauge sends one ASCII line of '0'/'1' characters per
// measurement. Three 4-bit groups carry the reading, each transmitted
// least-significant bit first.
const (
	intNibble    = 32 // integer part
	tenthsNibble = 36 // first fractional digit
	hundNibble   = 40 // second fractional digit
	nibbleBits   = 4

	// MinFrameBits is the shortest frame that covers every nibble.
	MinFrameBits = hundNibble + nibbleBits
)

var (
	// ErrShortFrame means the frame ended before the last nibble.
	ErrShortFrame = errors.New("frame too short")
	// ErrBadBit means a nibble contained something other than '0' or '1'.
	ErrBadBit = errors.New("invalid bit character")
)

// DecodeError describes a frame that could not be turned into a diameter.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeFrame converts one raw frame into a diameter in millimetres.
//
// Each nibble is reversed and read as a binary number; the first becomes the
// integer part and the other two are appended after the decimal point. A
// nibble value above 9 contributes two digits, matching the gauge firmware's
// own formatting, so "12" "7" "5" decodes to 12.75.
func DecodeFrame(frame string) (float64, error) {
	frame = strings.TrimRight(frame, "\r\n")
	if len(frame) < MinFrameBits {
		return 0, &DecodeError{Frame: frame, Err: fmt.Errorf("%w: %d bits, need %d", ErrShortFrame, len(frame), MinFrameBits)}
	}

	var sb strings.Builder
	for i, off := range [...]int{intNibble, tenthsNibble, hundNibble} {
		n, err := reversedNibble(frame[off : off+nibbleBits])
		if err != nil {
			return 0, &DecodeError{Frame: frame, Err: fmt.Errorf("nibble at bit %d: %w", off, err)}
		}
		if i == 1 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(n))
	}

	v, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0, &DecodeError{Frame: frame, Err: err}
	}
	return v, nil
}

// reversedNibble reads four bit characters LSB first.
func reversedNibble(bits string) (int, error) {
	n := 0
	for i := len(bits) - 1; i >= 0; i-- {
		n <<= 1
		switch bits[i] {
		case '1':
			n |= 1
		case '0':
		default:
			return 0, fmt.Errorf("%w %q", ErrBadBit, bits[i])
		}
	}
	return n, nil
}

// EncodeFrame builds a frame carrying the three nibble values. The bits
// outside the nibbles are zero. It is the inverse of DecodeFrame for values
// 0-15 and is used by the demo gauge and in tests.
func EncodeFrame(whole, tenths, hundredths int) string {
	buf := []byte(strings.Repeat("0", MinFrameBits+4))
	put := func(off, v int) {
		for i := 0; i < nibbleBits; i++ {
			if v&(1<<i) != 0 {
				buf[off+i] = '1'
			}
		}
	}
	put(intNibble, whole)
	put(tenthsNibble, tenths)
	put(hundNibble, hundredths)
	return string(buf)
}

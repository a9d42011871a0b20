package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrFileExists is returned by Open when the session file is already on disk.
// Existing recordings are never overwritten or appended to.
var ErrFileExists = errors.New("recording file already exists")

var csvHeader = []string{"Timestamp", "Diameter"}

// Writer records one recording session to a CSV file. It is not safe for
// concurrent use; the owner serializes calls.
type Writer struct {
	path   string
	file   *os.File
	writer *csv.Writer
	rows   int
	now    func() time.Time
}

// Open creates the session file at path, creating its directory if needed,
// and writes the header row.
func Open(path string) (*Writer, error) {
	return open(path, time.Now)
}

func open(path string, now func() time.Time) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w := &Writer{
		path:   path,
		file:   f,
		writer: csv.NewWriter(f),
		now:    now,
	}
	if err := w.writeRow(csvHeader); err != nil {
		f.Close()
		return nil, err
	}

	log.Printf("[recorder] opened %s", path)
	return w, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int { return w.rows }

// Append writes one timestamped reading. Rows are flushed as they are written
// so a crash loses at most the reading in flight.
func (w *Writer) Append(diameter float64) error {
	if w.writer == nil {
		return fmt.Errorf("append to %s: writer closed", w.path)
	}
	row := []string{
		strconv.FormatFloat(SerialDay(w.now()), 'f', 8, 64),
		strconv.FormatFloat(diameter, 'f', -1, 64),
	}
	if err := w.writeRow(row); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.writer == nil {
		return nil
	}
	w.writer.Flush()
	flushErr := w.writer.Error()
	w.writer = nil

	var size int64
	if st, err := w.file.Stat(); err == nil {
		size = st.Size()
	}
	closeErr := w.file.Close()
	w.file = nil

	log.Printf("[recorder] closed %s (%d rows, %s)", w.path, w.rows, humanize.Bytes(uint64(size)))
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", w.path, closeErr)
	}
	return nil
}

func (w *Writer) writeRow(row []string) error {
	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

// spreadsheetEpoch is day zero of the 1900 date system as spreadsheets use it.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// SerialDay converts t to a spreadsheet serial date: whole days since
// 1899-12-30 with the time of day as the fraction. The wall clock of t's
// location is used so the value displays as local time.
func SerialDay(t time.Time) float64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return wall.Sub(spreadsheetEpoch).Hours() / 24
}

// FileName returns the session file name
// "[<description>___]MM-DD-YYYY___Spool<N>.csv".
func FileName(description string, date time.Time, spool int) string {
	var sb strings.Builder
	if d := sanitize(description); d != "" {
		sb.WriteString(d)
		sb.WriteString("___")
	}
	sb.WriteString(date.Format("01-02-2006"))
	sb.WriteString("___Spool")
	sb.WriteString(strconv.Itoa(spool))
	sb.WriteString(".csv")
	return sb.String()
}

// sanitize keeps a user description from escaping the save directory or
// producing names the common file systems reject.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}

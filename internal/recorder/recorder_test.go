package recorder

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestWriterRecordsRowsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.csv")
	clock := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

	w, err := open(path, func() time.Time { return clock })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, v := range []float64{3.7, 3.9, 3.8} {
		if err := w.Append(v); err != nil {
			t.Fatalf("Append(%v): %v", v, err)
		}
	}
	if w.Rows() != 3 {
		t.Errorf("Rows = %d, want 3", w.Rows())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := [][]string{
		{"Timestamp", "Diameter"},
		{"45292.50000000", "3.7"},
		{"45292.50000000", "3.9"},
		{"45292.50000000", "3.8"},
	}
	got := readCSV(t, path)
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriterHeaderOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	// Header is on disk before any reading arrives.
	rows := readCSV(t, path)
	if len(rows) != 1 || rows[0][0] != "Timestamp" || rows[0][1] != "Diameter" {
		t.Errorf("rows = %v, want header only", rows)
	}
}

func TestOpenRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taken.csv")
	if err := os.WriteFile(path, []byte("keep me\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrFileExists) {
		t.Fatalf("Open error = %v, want ErrFileExists", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "keep me\n" {
		t.Errorf("existing file modified: %q", data)
	}
}

func TestCloseTwice(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "x.csv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.Append(1.75); err == nil {
		t.Error("Append after Close succeeded")
	}
}

func TestSerialDay(t *testing.T) {
	tests := []struct {
		t    time.Time
		want float64
	}{
		{time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 45292},
		{time.Date(2024, time.January, 1, 18, 0, 0, 0, time.UTC), 45292.75},
		// Wall clock of the location, not the UTC instant.
		{time.Date(2024, time.January, 1, 6, 0, 0, 0, time.FixedZone("EST", -5*3600)), 45292.25},
	}
	for _, tt := range tests {
		if got := SerialDay(tt.t); got != tt.want {
			t.Errorf("SerialDay(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	date := time.Date(2025, time.March, 7, 15, 4, 5, 0, time.Local)
	tests := []struct {
		description string
		spool       int
		want        string
	}{
		{"", 1, "03-07-2025___Spool1.csv"},
		{"   ", 2, "03-07-2025___Spool2.csv"},
		{"PLA Black", 12, "PLA Black___03-07-2025___Spool12.csv"},
		{"../etc/passwd", 3, ".._etc_passwd___03-07-2025___Spool3.csv"},
		{`a:b*c?`, 4, "a_b_c____03-07-2025___Spool4.csv"},
	}
	for _, tt := range tests {
		if got := FileName(tt.description, date, tt.spool); got != tt.want {
			t.Errorf("FileName(%q, %d) = %q, want %q", tt.description, tt.spool, got, tt.want)
		}
	}
}

// Package telemetry persists session data: append-only CSV files for the
// per-timestep feature and verdict rows, and a SQLite store of named sample
// streams. All of it is best-effort; callers log failures and carry on.
package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// CSVWriter appends rows to a CSV file. It is safe for concurrent use.
type CSVWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	rows uint64
}

// OpenCSV opens path for appending. A missing file is created and header
// is written first; an existing file is appended to as is.
func OpenCSV(path string, header []string) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
	}

	_, err := os.Stat(path)
	fresh := errors.Is(err, fs.ErrNotExist)
	if err != nil && !fresh {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	c := &CSVWriter{path: path, f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := c.write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return c, nil
}

// Path returns the file path.
func (c *CSVWriter) Path() string { return c.path }

// Rows returns the number of rows written since open, header excluded.
func (c *CSVWriter) Rows() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// WriteRow appends and flushes one row.
func (c *CSVWriter) WriteRow(fields []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return os.ErrClosed
	}
	if err := c.write(fields); err != nil {
		return fmt.Errorf("append %s: %w", c.path, err)
	}
	c.rows++
	return nil
}

func (c *CSVWriter) write(fields []string) error {
	if err := c.w.Write(fields); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	c.w.Flush()
	err := errors.Join(c.w.Error(), c.f.Close())
	c.f = nil
	return err
}

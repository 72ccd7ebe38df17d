package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Exporter receives the results of a finished batch.
type Exporter interface {
	Export(rs []Result) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(rs []Result) error

// Export calls f.
func (f ExporterFunc) Export(rs []Result) error { return f(rs) }

// JSONFile writes all results as one indented JSON array, replacing the file.
type JSONFile string

// Export writes the array through a temp file and renames it into place.
func (p JSONFile) Export(rs []Result) error {
	if rs == nil {
		rs = []Result{}
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	path := string(p)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// JSONLines appends one JSON object per result, creating the file if needed.
// Several runs can share one file.
type JSONLines string

// Export appends rs.
func (p JSONLines) Export(rs []Result) error {
	path := string(p)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range rs {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return fmt.Errorf("encode result for %s: %w", r.Task, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Multi runs every exporter and joins their errors.
func Multi(exporters ...Exporter) Exporter {
	return ExporterFunc(func(rs []Result) error {
		var errs []error
		for _, e := range exporters {
			if err := e.Export(rs); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

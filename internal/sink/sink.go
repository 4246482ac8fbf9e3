// Package sink implements the Report Sink: the CSV destination a
// correlation session writes one row to per matched PCR pair.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// header is the exact CSV header row, per the external interface
// contract. Column order and wording are load-bearing.
const header = "PCR1,PCR2,PCR Delta,Latency (ms),Sync\n"

// Sink writes CSV rows to an underlying file or stderr. It is not safe
// for concurrent use: the Correlator's mutex is the only serialization
// a Sink ever gets, by design.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// Open creates a Sink writing to path, or to os.Stderr if path is
// empty.
func Open(path string) (*Sink, error) {
	if path == "" {
		return &Sink{w: os.Stderr}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %q: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	return &Sink{w: bw, closer: closeFlusher{bw, f}}, nil
}

// closeFlusher flushes a buffered writer before closing its underlying
// file.
type closeFlusher struct {
	bw *bufio.Writer
	f  *os.File
}

func (c closeFlusher) Close() error {
	if err := c.bw.Flush(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// WriteHeader writes the CSV header row. Callers write it exactly once,
// before any WriteRow call.
func (s *Sink) WriteHeader() error {
	_, err := io.WriteString(s.w, header)
	if err != nil {
		return fmt.Errorf("sink: write header: %w", err)
	}
	return nil
}

// WriteRow writes one matched-pair row.
func (s *Sink) WriteRow(pcr1, pcr2, deltaPCR uint64, latencyMS float64, inSync bool) error {
	_, err := fmt.Fprintf(s.w, "%d,%d,%d,%v,%v\n", pcr1, pcr2, deltaPCR, latencyMS, inSync)
	if err != nil {
		return fmt.Errorf("sink: write row: %w", err)
	}
	return nil
}

// Close releases the underlying file, if any. Closing a stderr-backed
// Sink is a no-op.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Package ingest implements the Ingest Worker: one goroutine per leg
// that pulls batches from a Packet Source, fills in arrival timestamps
// the Source didn't supply, and forwards each batch to the Correlator.
package ingest

import (
	"context"
	"fmt"

	"github.com/zsiec/pcrdelta/internal/clock"
	"github.com/zsiec/pcrdelta/internal/source"
	"github.com/zsiec/pcrdelta/internal/tspacket"
)

// Ingester is the Correlator's half of the Ingest Worker contract.
// internal/correlator.Correlator satisfies this.
type Ingester interface {
	Ingest(leg int, packets []tspacket.Packet, meta []tspacket.Metadata) error
}

// Worker drives one Packet Source for the lifetime of a session.
type Worker struct {
	Leg      int
	Source   source.Source
	Sink     Ingester
	BatchMax int
}

// Run opens the Source, then loops calling Receive until EOF or ctx is
// canceled, filling in arrival timestamps and forwarding each batch to
// the Correlator. The termination flag of the reference design is
// realized as ctx.Done(), checked between batches only: a Receive call
// already in flight is never interrupted.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Source.Open(); err != nil {
		return fmt.Errorf("ingest worker %d: open: %w", w.Leg, err)
	}
	defer w.Source.Close()

	t0 := clock.Now()

	batch := make([]tspacket.Packet, w.BatchMax)
	meta := make([]tspacket.Metadata, w.BatchMax)

	for {
		if ctx.Err() != nil {
			return nil
		}

		for i := range meta {
			meta[i].Reset()
		}
		n, err := w.Source.Receive(batch, meta)
		if err != nil {
			return fmt.Errorf("ingest worker %d: receive: %w", w.Leg, err)
		}
		if n == 0 {
			return nil
		}

		// Sources are assumed to stamp every packet of a batch or none:
		// only the first packet is checked, and a mixed batch is not
		// detected.
		if !meta[0].HasInputTimestamp {
			now := t0.Ticks()
			for i := 0; i < n; i++ {
				meta[i].HasInputTimestamp = true
				meta[i].InputTimestamp = now
			}
		}

		if err := w.Sink.Ingest(w.Leg, batch[:n], meta[:n]); err != nil {
			return fmt.Errorf("ingest worker %d: correlate: %w", w.Leg, err)
		}
	}
}

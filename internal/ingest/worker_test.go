package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/zsiec/pcrdelta/internal/tspacket"
)

// fakeSource hands out a fixed sequence of batches, then EOF.
type fakeSource struct {
	batches   [][]tspacket.Packet
	metas     [][]tspacket.Metadata
	openErr   error
	recvErr   error
	recvErrAt int // batch index (0-based) that fails, -1 for never
	opened    bool
	closed    bool
}

func (f *fakeSource) Open() error {
	f.opened = true
	return f.openErr
}

func (f *fakeSource) Receive(buf []tspacket.Packet, meta []tspacket.Metadata) (int, error) {
	if f.recvErrAt == 0 && f.recvErr != nil {
		return 0, f.recvErr
	}
	if f.recvErrAt > 0 {
		f.recvErrAt--
	}
	if len(f.batches) == 0 {
		return 0, nil
	}

	b := f.batches[0]
	m := f.metas[0]
	f.batches = f.batches[1:]
	f.metas = f.metas[1:]

	n := copy(buf, b)
	copy(meta, m)
	return n, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

// fakeIngester records every batch it receives.
type fakeIngester struct {
	legs  []int
	batch [][]tspacket.Metadata
	err   error
}

func (f *fakeIngester) Ingest(leg int, packets []tspacket.Packet, meta []tspacket.Metadata) error {
	f.legs = append(f.legs, leg)
	cp := make([]tspacket.Metadata, len(meta))
	copy(cp, meta)
	f.batch = append(f.batch, cp)
	return f.err
}

func TestWorker_FillsMissingTimestampsPerBatch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		batches: [][]tspacket.Packet{
			{{}, {}},
		},
		metas: [][]tspacket.Metadata{
			{{}, {}}, // neither packet has a timestamp
		},
	}
	sink := &fakeIngester{}
	w := &Worker{Leg: 0, Source: src, Sink: sink, BatchMax: 8}

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !src.opened || !src.closed {
		t.Fatalf("source lifecycle: opened=%v closed=%v", src.opened, src.closed)
	}
	if len(sink.batch) != 1 {
		t.Fatalf("Ingest called %d times, want 1", len(sink.batch))
	}
	got := sink.batch[0]
	if !got[0].HasInputTimestamp || !got[1].HasInputTimestamp {
		t.Fatalf("metadata not filled: %+v", got)
	}
	if got[0].InputTimestamp != got[1].InputTimestamp {
		t.Fatalf("batch filled with different timestamps: %d vs %d", got[0].InputTimestamp, got[1].InputTimestamp)
	}
}

func TestWorker_PreservesSourceSuppliedTimestamps(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		batches: [][]tspacket.Packet{{{}}},
		metas:   [][]tspacket.Metadata{{{HasInputTimestamp: true, InputTimestamp: 42}}},
	}
	sink := &fakeIngester{}
	w := &Worker{Leg: 1, Source: src, Sink: sink, BatchMax: 8}

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.batch[0]
	if got[0].InputTimestamp != 42 {
		t.Fatalf("InputTimestamp = %d, want 42 (should not be overwritten)", got[0].InputTimestamp)
	}
}

func TestWorker_OpenFailureAborts(t *testing.T) {
	t.Parallel()

	src := &fakeSource{openErr: errors.New("boom")}
	sink := &fakeIngester{}
	w := &Worker{Leg: 0, Source: src, Sink: sink, BatchMax: 8}

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed Open")
	}
	if len(sink.batch) != 0 {
		t.Fatal("Ingest should never be called when Open fails")
	}
}

func TestWorker_ReceiveEOFStopsCleanly(t *testing.T) {
	t.Parallel()

	src := &fakeSource{} // zero batches => immediate EOF
	sink := &fakeIngester{}
	w := &Worker{Leg: 0, Source: src, Sink: sink, BatchMax: 8}

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.batch) != 0 {
		t.Fatal("Ingest should not be called when the source EOFs immediately")
	}
}

func TestWorker_ContextCanceledBetweenBatchesStopsLoop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{
		batches: [][]tspacket.Packet{{{}}},
		metas:   [][]tspacket.Metadata{{{}}},
	}
	sink := &fakeIngester{}
	w := &Worker{Leg: 0, Source: src, Sink: sink, BatchMax: 8}

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.batch) != 0 {
		t.Fatal("Ingest should not be called once ctx is already canceled")
	}
}

func TestWorker_ReceiveErrorPropagates(t *testing.T) {
	t.Parallel()

	src := &fakeSource{recvErr: errors.New("read failure"), recvErrAt: 0}
	sink := &fakeIngester{}
	w := &Worker{Leg: 0, Source: src, Sink: sink, BatchMax: 8}

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error from Receive failure")
	}
}

// Package correlator implements the serialized pairing engine: it
// receives PCR samples from both Ingest Workers, pairs the front of
// each Sample Queue under one mutex, and emits a CSV row through the
// Report Sink whenever a pair clears the arrival-skew gate.
//
// The pairing procedure, the arrival-skew gate, and the queue soft-cap
// reset are translated directly from the reference comparator's
// analyzePacket/comparePCR/verifyPCRDataInputTimestamp/resetPCRDataList
// methods; only the host language changed.
package correlator

import (
	"fmt"
	"sync"

	"github.com/zsiec/pcrdelta/internal/sample"
	"github.com/zsiec/pcrdelta/internal/sink"
	"github.com/zsiec/pcrdelta/internal/tspacket"
)

// Config carries the pairing parameters the Correlator needs out of
// the session-wide Config, without importing internal/session (which
// imports this package to wire the Correlator up).
type Config struct {
	LatencyThresholdMS  float64
	PairTimestampSkewMS float64
	QueueSoftCap        int
	PCRWrapMitigation   bool
}

// DefaultConfig returns a Config with the historical skew-gate and
// queue-cap defaults filled in; LatencyThresholdMS is left zero.
func DefaultConfig() Config {
	return Config{
		PairTimestampSkewMS: 10,
		QueueSoftCap:        10,
	}
}

// pcrBits is the width of the Program Clock Reference counter. Used
// only by the optional wrap-aware delta.
const pcrBits = 42

// hzPerMS is the PCR/ms conversion factor: 27,000,000 Hz / 1000 ms.
const hzPerMS = 27000.0

// Correlator pairs PCR samples arriving on two independent legs and
// writes matched rows to a Report Sink. All state is guarded by a
// single mutex, mirroring the reference's GuardMutex discipline: there
// is no finer-grained locking and no lock-free structure.
type Correlator struct {
	cfg  Config
	sink *sink.Sink

	mu     sync.Mutex
	queues [2]sample.Queue
}

// New creates a Correlator writing matched rows to sink. cfg supplies
// the skew gate, queue soft cap, sync threshold, and wrap-mitigation
// flag.
func New(cfg Config, sink *sink.Sink) *Correlator {
	return &Correlator{cfg: cfg, sink: sink}
}

// Ingest is called by an Ingest Worker with one Receive batch. leg must
// be 0 or 1 and identifies which Sample Queue packets belong to. For
// each packet with a PCR, Ingest pushes a Sample and attempts a
// pairing, exactly as the reference's per-packet analyzePacket loop.
func (c *Correlator) Ingest(leg int, packets []tspacket.Packet, meta []tspacket.Metadata) error {
	if leg != 0 && leg != 1 {
		return fmt.Errorf("correlator: invalid leg %d", leg)
	}
	if len(packets) != len(meta) {
		return fmt.Errorf("correlator: packets/meta length mismatch (%d/%d)", len(packets), len(meta))
	}

	for i := range packets {
		pcr, ok := tspacket.ExtractPCR(&packets[i])
		if !ok {
			continue
		}

		c.mu.Lock()
		c.queues[leg].Push(sample.Sample{PCR: pcr, ArrivalTS: meta[i].InputTimestamp})
		err := c.pair()
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// pair runs the pairing procedure once. The caller must hold c.mu.
func (c *Correlator) pair() error {
	q1, q2 := &c.queues[0], &c.queues[1]

	s1, ok1 := q1.Front()
	s2, ok2 := q2.Front()

	if ok1 && ok2 {
		skewMS := absInt64(s1.ArrivalTS-s2.ArrivalTS) / hzPerMS
		if skewMS > c.cfg.PairTimestampSkewMS {
			c.resetLocked()
			return nil
		}

		deltaPCR := c.deltaPCR(s1.PCR, s2.PCR)
		latencyMS := float64(deltaPCR) / hzPerMS
		inSync := latencyMS <= c.cfg.LatencyThresholdMS

		if err := c.sink.WriteRow(s1.PCR, s2.PCR, deltaPCR, latencyMS, inSync); err != nil {
			return err
		}

		q1.Pop()
		q2.Pop()
		return nil
	}

	if q1.Len() > c.cfg.QueueSoftCap || q2.Len() > c.cfg.QueueSoftCap {
		c.resetLocked()
	}
	return nil
}

// deltaPCR computes the absolute PCR difference, optionally taking the
// wrap-aware minimum against 2^42 - |delta| when the session enables
// PCRWrapMitigation.
func (c *Correlator) deltaPCR(pcr1, pcr2 uint64) uint64 {
	var delta uint64
	if pcr1 > pcr2 {
		delta = pcr1 - pcr2
	} else {
		delta = pcr2 - pcr1
	}
	if !c.cfg.PCRWrapMitigation {
		return delta
	}

	wrapped := (uint64(1)<<pcrBits - delta)
	if wrapped < delta {
		return wrapped
	}
	return delta
}

// resetLocked clears both queues atomically. The caller must hold c.mu.
func (c *Correlator) resetLocked() {
	c.queues[0].Clear()
	c.queues[1].Clear()
}

func absInt64(v int64) float64 {
	if v < 0 {
		v = -v
	}
	return float64(v)
}

// Package clock supplies the monotonic arrival-timestamp clock an
// Ingest Worker uses when its Source does not stamp packets itself.
package clock

import "time"

// Baseline is a monotonic reference point captured once per Ingest
// Worker run. time.Time already carries a monotonic reading as long as
// it comes from time.Now, so subtracting two Baselines is immune to
// wall-clock adjustments.
type Baseline struct {
	t0 time.Time
}

// Now captures a new Baseline.
func Now() Baseline {
	return Baseline{t0: time.Now()}
}

// Ticks returns elapsed time since the Baseline, expressed in 27 MHz
// units, matching the PCR's own tick rate so arrival timestamps and
// PCR samples are directly comparable.
//
// The conversion factor 27e6/1e9 reduces to 27/1000; the division is
// done before the multiplication (scaled by the 1000 remainder) so a
// multi-day session's nanosecond count never overflows int64 the way a
// naive ns*27000000 would.
func (b Baseline) Ticks() int64 {
	ns := int64(time.Since(b.t0))
	return (ns/1000)*27 + (ns%1000)*27/1000
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pcrdelta/internal/correlator"
	"github.com/zsiec/pcrdelta/internal/ingest"
	"github.com/zsiec/pcrdelta/internal/sink"
	"github.com/zsiec/pcrdelta/internal/source"
)

// State is the Session Controller's lifecycle state.
type State int

const (
	StateNew State = iota
	StateRunning
	StateStopping
	StateDrained
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateDrained:
		return "DRAINED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Controller owns both Ingest Workers and the Correlator for one
// session, and drives the NEW -> RUNNING -> {STOPPING ->} DRAINED ->
// CLOSED state machine.
type Controller struct {
	cfg       Config
	log       *slog.Logger
	SessionID string

	mu    sync.Mutex
	state State

	sink   *sink.Sink
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a Controller in state NEW. If log is nil, slog.Default()
// is used.
func New(cfg Config, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Controller{
		cfg:       cfg,
		log:       log.With("component", "session", "session_id", id),
		SessionID: id,
		state:     StateNew,
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the Report Sink, writes its header, parses both Packet
// Source specs, and spawns the two Ingest Workers as goroutines under an
// errgroup. It returns immediately; call Wait to block for completion.
// Each Worker opens its own Source after Start has returned, so a
// Source.Open failure is reported by Wait, not by Start.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return fmt.Errorf("session: Start called in state %s, want NEW", c.state)
	}
	c.mu.Unlock()

	snk, err := sink.Open(c.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := snk.WriteHeader(); err != nil {
		snk.Close()
		return fmt.Errorf("session: %w", err)
	}

	srcs := [2]source.Source{}
	for i, spec := range c.cfg.Inputs {
		src, err := source.Open(spec)
		if err != nil {
			snk.Close()
			return fmt.Errorf("session: input %d: %w", i, err)
		}
		srcs[i] = src
	}

	corr := correlator.New(correlator.Config{
		LatencyThresholdMS:  c.cfg.LatencyThresholdMS,
		PairTimestampSkewMS: c.cfg.PairTimestampSkewMS,
		QueueSoftCap:        c.cfg.QueueSoftCap,
		PCRWrapMitigation:   c.cfg.PCRWrapMitigation,
	}, snk)

	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)

	for i := range srcs {
		leg := i
		w := &ingest.Worker{
			Leg:      leg,
			Source:   srcs[leg],
			Sink:     corr,
			BatchMax: c.cfg.PacketBatchMax,
		}
		g.Go(func() error {
			c.log.Info("ingest worker starting", "leg", leg, "input", c.cfg.Inputs[leg])
			err := w.Run(runCtx)
			if err != nil {
				c.log.Error("ingest worker failed", "leg", leg, "error", err)
			} else {
				c.log.Info("ingest worker finished", "leg", leg)
			}
			return err
		})
	}

	c.mu.Lock()
	c.sink = snk
	c.cancel = cancel
	c.group = g
	c.state = StateRunning
	c.mu.Unlock()

	return nil
}

// Wait blocks until both Ingest Workers have finished, then drains
// remaining resources and transitions to CLOSED. It returns the first
// error reported by either Worker, if any.
func (c *Controller) Wait() error {
	c.mu.Lock()
	g := c.group
	snk := c.sink
	c.mu.Unlock()

	if g == nil {
		return fmt.Errorf("session: Wait called before Start")
	}

	runErr := g.Wait()

	c.mu.Lock()
	c.state = StateDrained
	c.mu.Unlock()

	closeErr := snk.Close()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if runErr != nil {
		return fmt.Errorf("session: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("session: %w", closeErr)
	}
	return nil
}

// Stop requests early termination. It transitions RUNNING to STOPPING
// and cancels the shared context, which the Ingest Workers observe
// between batches. Calls in any other state, including repeat calls,
// are no-ops.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

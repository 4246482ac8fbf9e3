// Package source defines the Packet Source contract that feeds the
// correlation engine, and dispatches CLI source specs to a concrete
// implementation. It is the external-collaborator boundary of spec
// section 6: the engine only ever calls Open/Receive/Close.
package source

import (
	"fmt"
	"strings"

	"github.com/zsiec/pcrdelta/internal/source/srt"
	"github.com/zsiec/pcrdelta/internal/tspacket"
)

// Source is one leg of the comparison. Implementations are not required
// to be safe for concurrent use: the Session Controller gives each
// Source to exactly one Ingest Worker for its whole lifetime.
type Source interface {
	// Open acquires the underlying transport. A failure here aborts the
	// session (spec section 7, error kind 3).
	Open() error

	// Receive blocks until at least one packet is available or the
	// Source has reached a natural end, filling buf/meta from index 0.
	// It returns (0, nil) at normal EOF, never a sentinel error for
	// EOF. buf and meta must have equal, non-zero length.
	Receive(buf []tspacket.Packet, meta []tspacket.Metadata) (n int, err error)

	// Close releases the underlying transport. Safe to call after a
	// failed Open.
	Close() error
}

// Open parses a CLI source spec of the form "scheme:rest" and returns
// the corresponding Source. It does not call Source.Open.
func Open(spec string) (Source, error) {
	scheme, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("source: %q has no scheme (expected \"scheme:...\")", spec)
	}

	switch scheme {
	case "file":
		return NewFileSource(rest), nil
	case "srt":
		return srt.Parse(rest)
	default:
		return nil, fmt.Errorf("source: unknown scheme %q", scheme)
	}
}

// Package srt implements a pull (caller-mode) SRT Packet Source. It does
// not import internal/source: the Source type below satisfies that
// package's Source interface structurally, avoiding an import cycle.
package srt

import (
	"fmt"
	"io"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/pcrdelta/internal/tspacket"
)

// srtReadBufferSize is sized for a handful of TS packets per socket read,
// matching the teacher's SRT ingest buffer.
const srtReadBufferSize = 1316 * 10

// latencyNs is the SRT receiver latency. TSDuck's srt input plugin
// exposes this as a tunable; this engine fixes it at the teacher's
// default since the CLI's own --latency flag means the sync threshold,
// not the transport's buffering latency.
const latencyNs = 120_000_000

// Source pulls an MPEG-TS byte stream from a remote SRT listener and
// frames it into fixed-size packets. It never supplies per-packet input
// timestamps: SRT delivers an undifferentiated byte stream.
type Source struct {
	address  string
	streamID string

	conn *srtgo.Conn
	buf  []byte // unframed bytes carried over between Receive calls
}

// Parse builds a Source from a "host:port[?streamid=...]" spec, the
// part of a "srt:host:port?streamid=..." CLI argument after the scheme.
func Parse(spec string) (*Source, error) {
	if spec == "" {
		return nil, fmt.Errorf("srt: empty address")
	}

	address, query, _ := strings.Cut(spec, "?")
	if address == "" {
		return nil, fmt.Errorf("srt: empty address in %q", spec)
	}

	var streamID string
	if query != "" {
		const prefix = "streamid="
		if !strings.HasPrefix(query, prefix) {
			return nil, fmt.Errorf("srt: unrecognized query %q (want %q)", query, prefix+"...")
		}
		streamID = strings.TrimPrefix(query, prefix)
	}

	return &Source{address: address, streamID: streamID}, nil
}

// dialTimeout bounds how long Open waits for the SRT handshake.
const dialTimeout = 10 * time.Second

// Open implements source.Source.
func (s *Source) Open() error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	if s.streamID != "" {
		cfg.StreamID = s.streamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("srt source: dial %s: %w", s.address, res.err)
		}
		s.conn = res.conn
		return nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("srt source: dial %s: timed out after %s", s.address, dialTimeout)
	}
}

// Receive implements source.Source. It reads raw SRT payload into an
// internal carry-over buffer and slices off whole tspacket.Size frames,
// up to len(buf). Metadata is always left with HasInputTimestamp=false.
func (s *Source) Receive(buf []tspacket.Packet, meta []tspacket.Metadata) (int, error) {
	if len(buf) == 0 || len(buf) != len(meta) {
		return 0, fmt.Errorf("srt source: buf/meta length mismatch (%d/%d)", len(buf), len(meta))
	}

	for i := range meta {
		meta[i].Reset()
	}

	n := 0
	for n < len(buf) {
		for len(s.buf) < tspacket.Size {
			chunk := make([]byte, srtReadBufferSize)
			read, err := s.conn.Read(chunk)
			if err != nil {
				if err == io.EOF {
					return n, nil
				}
				return n, fmt.Errorf("srt source: read: %w", err)
			}
			s.buf = append(s.buf, chunk[:read]...)
		}

		copy(buf[n][:], s.buf[:tspacket.Size])
		s.buf = s.buf[tspacket.Size:]
		n++

		if len(s.buf) < tspacket.Size {
			break
		}
	}

	return n, nil
}

// Close implements source.Source.
func (s *Source) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

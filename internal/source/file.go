package source

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/zsiec/pcrdelta/internal/tspacket"
)

// FileSource replays a flat MPEG-TS file (or any readable byte stream:
// a FIFO works too). It never supplies per-packet timestamps, exercising
// the Ingest Worker's timestamp-fill path on every batch.
type FileSource struct {
	path string
	f    *os.File
	r    *bufio.Reader
}

// NewFileSource creates a FileSource for path. Open must be called
// before Receive.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Open implements Source.
func (s *FileSource) Open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("file source: open %q: %w", s.path, err)
	}
	s.f = f
	s.r = bufio.NewReaderSize(f, tspacket.Size*256)
	return nil
}

// Receive implements Source. It fills buf with as many whole
// tspacket.Size frames as are immediately available, up to len(buf),
// blocking for at least one. Metadata is always left with
// HasInputTimestamp=false.
func (s *FileSource) Receive(buf []tspacket.Packet, meta []tspacket.Metadata) (int, error) {
	if len(buf) == 0 || len(buf) != len(meta) {
		return 0, fmt.Errorf("file source: buf/meta length mismatch (%d/%d)", len(buf), len(meta))
	}

	for i := range meta {
		meta[i].Reset()
	}

	n := 0
	for n < len(buf) {
		if _, err := io.ReadFull(s.r, buf[n][:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return n, fmt.Errorf("file source: read: %w", err)
		}
		n++
		if s.r.Buffered() == 0 {
			// Nothing more immediately available; return this batch
			// rather than blocking for the next file read.
			break
		}
	}

	return n, nil
}

// Close implements Source.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

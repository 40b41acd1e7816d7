package ledger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStore persists the ledger as an NDJSON file: one canonically encoded
// entry per line, appended in sequence order. The format supports streaming
// replay, byte-for-byte re-encoding (so the hash chain is reproducible),
// and torn-write detection: a final line without a trailing newline is an
// incomplete record from an unclean shutdown.
type FileStore struct {
	path   string
	mu     sync.Mutex
	w      *os.File
	tail   uint64
	logger *zap.Logger
}

// FileStoreOption configures OpenFileStore.
type FileStoreOption func(*fileStoreOptions)

type fileStoreOptions struct {
	truncateTorn bool
}

// WithTornTailRepair allows OpenFileStore to truncate an incomplete final
// record instead of refusing to open. This is the out-of-band repair path
// after an unclean shutdown; it never touches complete records.
func WithTornTailRepair() FileStoreOption {
	return func(o *fileStoreOptions) { o.truncateTorn = true }
}

// OpenFileStore opens (creating if needed) the NDJSON ledger at path. It
// scans the existing file to find the tail sequence and to detect a torn
// final record; a torn tail fails the open with ErrLedgerUnavailable unless
// WithTornTailRepair is given.
func OpenFileStore(path string, logger *zap.Logger, opts ...FileStoreOption) (*FileStore, error) {
	var o fileStoreOptions
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create ledger dir: %v", ErrLedgerUnavailable, err)
		}
	}

	intact, tail, err := scanLedgerFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrLedgerUnavailable, path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrLedgerUnavailable, path, err)
	}

	if fi.Size() > intact {
		if !o.truncateTorn {
			f.Close()
			return nil, fmt.Errorf("%w: %s has a truncated final record (%d trailing bytes); rerun with torn-tail repair",
				ErrLedgerUnavailable, path, fi.Size()-intact)
		}
		if err := f.Truncate(intact); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: truncate torn tail: %v", ErrLedgerUnavailable, err)
		}
		logger.Warn("truncated torn ledger tail",
			zap.String("path", path),
			zap.Int64("dropped_bytes", fi.Size()-intact),
		)
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek %s: %v", ErrLedgerUnavailable, path, err)
	}

	return &FileStore{path: path, w: f, tail: tail, logger: logger}, nil
}

// scanLedgerFile walks the file once, returning the byte offset of the last
// complete record and the sequence number of the last decodable entry.
func scanLedgerFile(path string) (intact int64, tail uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return -1, 0, fmt.Errorf("%w: open %s: %v", ErrLedgerUnavailable, path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		line, readErr := r.ReadBytes('\n')
		if readErr == io.EOF {
			// A partial final line is a torn record; intact stops before it.
			return offset, tail, nil
		}
		if readErr != nil {
			return -1, 0, fmt.Errorf("%w: read %s: %v", ErrLedgerUnavailable, path, readErr)
		}
		offset += int64(len(line))
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		e, decErr := DecodeEntry(trimmed)
		if decErr != nil {
			// Decode faults are reported at replay time; opening only needs
			// the tail sequence from the last record that does decode.
			continue
		}
		tail = e.Sequence
	}
}

// Append implements Store. The record is written as one line in a single
// write followed by fsync; on a write error the file is truncated back to
// its prior size so no partial record survives.
func (s *FileStore) Append(ctx context.Context, e *Entry) error {
	data, err := EncodeEntry(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return fmt.Errorf("%w: store is closed", ErrLedgerUnavailable)
	}
	if e.Sequence != s.tail+1 {
		return fmt.Errorf("append out of order: entry has sequence %d, store tail is %d", e.Sequence, s.tail)
	}

	before, err := s.w.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%w: seek: %v", ErrLedgerUnavailable, err)
	}

	line := append(data, '\n')
	if _, err := s.w.Write(line); err != nil {
		if truncErr := s.w.Truncate(before); truncErr != nil {
			s.logger.Error("failed to roll back partial append",
				zap.Uint64("sequence", e.Sequence),
				zap.Error(truncErr),
			)
		}
		return fmt.Errorf("%w: write entry %d: %v", ErrLedgerUnavailable, e.Sequence, err)
	}
	if err := s.w.Sync(); err != nil {
		return fmt.Errorf("%w: fsync entry %d: %v", ErrLedgerUnavailable, e.Sequence, err)
	}

	s.tail = e.Sequence
	return nil
}

// Iterate implements Store. Each cursor opens its own read handle, so
// concurrent iterations are independent and restartable.
func (s *FileStore) Iterate(ctx context.Context) (Cursor, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrLedgerUnavailable, s.path, err)
	}
	return &fileCursor{f: f, r: bufio.NewReader(f)}, nil
}

// TailSequence implements Store.
func (s *FileStore) TailSequence(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tail, nil
}

// Get implements Store by scanning the file; the log is flat and
// inspectable rather than indexed.
func (s *FileStore) Get(ctx context.Context, seq uint64) (*Entry, error) {
	cur, err := s.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	for cur.Next() {
		if e := cur.Entry(); e.Sequence == seq {
			return e, nil
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}

type fileCursor struct {
	f   *os.File
	r   *bufio.Reader
	cur *Entry
	err error
}

func (c *fileCursor) Next() bool {
	if c.err != nil {
		return false
	}
	for {
		line, err := c.r.ReadBytes('\n')
		if err == io.EOF {
			// Either the end of the log or an append in flight; a partial
			// line is never surfaced to the reader.
			return false
		}
		if err != nil {
			c.err = err
			return false
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		e, decErr := DecodeEntry(trimmed)
		if decErr != nil {
			c.err = decErr
			return false
		}
		c.cur = e
		return true
	}
}

func (c *fileCursor) Entry() *Entry { return c.cur }
func (c *fileCursor) Err() error    { return c.err }
func (c *fileCursor) Close() error  { return c.f.Close() }

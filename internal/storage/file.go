package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "simplecron/pkg/logx"
)

// fileStore appends one JSON object per line to <path> and keeps the newest
// Retain entries in a ring for Recent. The ring is rebuilt from the file on
// open.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	seq  int64
	ring []Entry
	head int // index of the oldest entry once the ring is full
	full bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, ring: make([]Entry, 0, cfg.Retain)}
	if err := s.replay(path, cfg.Retain); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if torn, err := tornTail(path); err == nil && torn {
		// Terminate the partial line so the next record starts clean.
		if _, err := f.WriteString("\n"); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	s.f = f
	s.enc = json.NewEncoder(f)
	return s, nil
}

// tornTail reports whether a non-empty file lacks a trailing newline.
func tornTail(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return false, err
	}
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, st.Size()-1); err != nil {
		return false, err
	}
	return b[0] != '\n', nil
}

func (s *fileStore) replay(path string, retain int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	skipped := 0
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// A torn final line after a crash is expected; keep going.
			skipped++
			continue
		}
		if e.Seq > s.seq {
			s.seq = e.Seq
		}
		s.push(e, retain)
	}
	if skipped > 0 {
		s.log.Warn("journal lines skipped", logx.String("path", path), logx.Int("count", skipped))
	}
	return sc.Err()
}

func (s *fileStore) push(e Entry, retain int) {
	if !s.full {
		s.ring = append(s.ring, e)
		if len(s.ring) == retain {
			s.full = true
		}
		return
	}
	s.ring[s.head] = e
	s.head = (s.head + 1) % len(s.ring)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.enc = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.seq++
	e.Seq = s.seq
	if err := s.enc.Encode(e); err != nil {
		s.seq--
		return err
	}
	s.push(e, cap(s.ring))
	return nil
}

func (s *fileStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	size := len(s.ring)
	if n <= 0 || size == 0 {
		return nil, nil
	}
	if n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, s.ring[(s.head+i)%size])
	}
	return out, nil
}

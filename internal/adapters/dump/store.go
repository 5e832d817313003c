// Package dump keeps the raw inbound audio of each session on disk so the
// most recent recording can be downloaded.
package dump

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/core"
)

var ErrNoDump = errors.New("no audio dump")

type Store struct {
	dir string

	mu     sync.RWMutex
	latest string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Open truncates or creates <dir>/<sid>.raw and makes it the latest dump.
func (s *Store) Open(sid core.SessionID) (core.AudioSink, error) {
	path := filepath.Join(s.dir, filepath.Base(string(sid))+".raw")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}

	s.mu.Lock()
	s.latest = path
	s.mu.Unlock()

	log.Debug().Str("module", "dump").Str("sid", string(sid)).Str("path", path).Msg("dump opened")
	return &fileSink{f: f}, nil
}

// Latest returns the path of the most recently opened dump.
func (s *Store) Latest() (string, error) {
	s.mu.RLock()
	path := s.latest
	s.mu.RUnlock()
	if path == "" {
		return "", ErrNoDump
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoDump
		}
		return "", err
	}
	return path, nil
}

type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *fileSink) Write(frame core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.f.Write(frame)
	return err
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Prune deletes dumps not modified within maxAge and returns how many were
// removed. Dumps still being written stay fresh and are kept.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read dump dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".raw" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove dump: %w", err)
		}
		removed++
	}
	return removed, nil
}

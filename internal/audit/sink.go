package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/globalization/pkg/config"
)

// Sink persists audit entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry Entry) error
}

// ChainSource reads back a stored chain.
type ChainSource interface {
	// Last returns the newest entry, or nil for an empty chain.
	Last(ctx context.Context) (*Entry, error)
	// List returns up to limit entries with Seq > afterSeq in ascending order.
	List(ctx context.Context, afterSeq uint64, limit int) ([]Entry, error)
}

// FileSink appends entries as JSON lines to a rotated file.
type FileSink struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewFileSink opens the audit file described by cfg.
func NewFileSink(cfg config.AuditConfig) *FileSink {
	return &FileSink{
		out: &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
	}
}

// Name implements Sink.
func (s *FileSink) Name() string {
	return "file"
}

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.out.Write(line)
	return err
}

// Close flushes and closes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

// MemorySink keeps entries in memory.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Name implements Sink.
func (s *MemorySink) Name() string {
	return "memory"
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything written so far.
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Last implements ChainSource.
func (s *MemorySink) Last(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	last := s.entries[len(s.entries)-1]
	return &last, nil
}

// List implements ChainSource.
func (s *MemorySink) List(_ context.Context, afterSeq uint64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, entry := range s.entries {
		if entry.Seq <= afterSeq {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

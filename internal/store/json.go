package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JSONStore keeps all events in memory and persists them as a single JSON
// snapshot. The snapshot is written to a temp file and renamed into place so
// a crash mid-write never corrupts the previous snapshot.
type JSONStore struct {
	mu     sync.RWMutex
	path   string
	events map[string]*Event
	logger *slog.Logger
}

// OpenJSON loads the snapshot at path, creating an empty store if the file
// does not exist yet.
func OpenJSON(path string, logger *slog.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &JSONStore{
		path:   path,
		events: make(map[string]*Event),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("event snapshot not found, starting empty", "path", path)
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading snapshot %s: %w", path, err)
	}

	var events []*Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("store: parsing snapshot %s: %w", path, err)
	}

	for _, ev := range events {
		s.events[ev.ID] = ev
	}

	logger.Info("event snapshot loaded", "path", path, "events", len(events))

	return s, nil
}

func (s *JSONStore) List(_ context.Context) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Clone())
	}

	// Stable order: by start time, then id.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (s *JSONStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}

	return ev.Clone(), nil
}

func (s *JSONStore) Put(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.ID] = ev.Clone()

	return nil
}

func (s *JSONStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, id)

	return nil
}

// Persist writes the full snapshot atomically (write-to-temp-then-rename).
func (s *JSONStore) Persist(ctx context.Context) error {
	events, err := s.List(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: creating data dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".events-*.json")
	if err != nil {
		return fmt.Errorf("store: creating temp snapshot: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: writing snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: closing snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replacing snapshot %s: %w", s.path, err)
	}

	s.logger.Debug("event snapshot persisted", "path", s.path, "events", len(events))

	return nil
}

func (s *JSONStore) Close() error {
	return s.Persist(context.Background())
}

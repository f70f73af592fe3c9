// Package queue owns the durable ordered collection of listings. The on-disk
// JSON document is the source of truth for batch runs: it is read once at
// open and rewritten after every status mutation (write-through), with an
// atomic temp-file replace so a crash never leaves a half-written queue.
//
// Writes are single-writer by contract: only the batch processor mutates
// status. Observers consume status-change events or read snapshots.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/listing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound indicates the listing id is not in the queue.
var ErrNotFound = errors.New("queue: listing not found")

// ErrCorrupt indicates the queue document exists but cannot be decoded.
// Unlike a missing file this is surfaced, not papered over: silently starting
// an empty queue would orphan every pending listing.
var ErrCorrupt = errors.New("queue: document is corrupt")

// Event is one persisted status transition, published to subscribers after
// the transition has been durably written.
type Event struct {
	ID   string         `json:"id"`
	From listing.Status `json:"from"`
	To   listing.Status `json:"to"`
	At   time.Time      `json:"at"`
}

// Store is the in-memory view of the queue document, kept in lockstep with
// disk after every mutation.
type Store struct {
	mu     sync.Mutex
	path   string
	items  []listing.Listing
	subs   []func(Event)
	logger *zap.Logger
}

// Open loads the queue document at path, creating an empty queue when the
// file does not exist yet.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger.Named("queue")}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No queue document found, starting empty", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("queue: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	s.logger.Info("Queue loaded", zap.String("path", path), zap.Int("listings", len(s.items)))
	return s, nil
}

// Subscribe registers a status-change observer. Callbacks run synchronously
// after each persisted transition, on the mutating goroutine.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Add appends a validated listing and persists the document.
func (s *Store) Add(l listing.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.ID == l.ID {
			return fmt.Errorf("queue: listing %s already queued", l.ID)
		}
	}
	s.items = append(s.items, l)
	return s.persistLocked()
}

// Get returns a copy of the listing with the given id.
func (s *Store) Get(id string) (listing.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.items {
		if l.ID == id {
			return cloneListing(l), nil
		}
	}
	return listing.Listing{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Snapshot returns a consistent deep copy of the whole queue, in order.
func (s *Store) Snapshot() []listing.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]listing.Listing, len(s.items))
	for i, l := range s.items {
		out[i] = cloneListing(l)
	}
	return out
}

// Pending returns copies of the pending listings in queue order.
func (s *Store) Pending() []listing.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []listing.Listing
	for _, l := range s.items {
		if l.Status == listing.StatusPending {
			out = append(out, cloneListing(l))
		}
	}
	return out
}

// UpdateStatus applies one lifecycle transition, persists the document, and
// then notifies subscribers. Illegal transitions are rejected before any
// state changes. Moving to Processing increments the attempt counter; a
// terminal status records lerr (which may be nil for Completed).
func (s *Store) UpdateStatus(id string, to listing.Status, lerr *listing.Error) error {
	s.mu.Lock()
	idx := -1
	for i := range s.items {
		if s.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	item := &s.items[idx]
	from := item.Status
	if !from.CanTransition(to) {
		s.mu.Unlock()
		return fmt.Errorf("queue: illegal transition %s -> %s for listing %s", from, to, id)
	}

	prev := *item
	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	switch to {
	case listing.StatusProcessing:
		item.Attempts++
	case listing.StatusFailed:
		item.LastError = lerr
	case listing.StatusCompleted:
		item.LastError = nil
	}

	if err := s.persistLocked(); err != nil {
		// Roll the in-memory view back so memory and disk stay in agreement.
		*item = prev
		s.mu.Unlock()
		return err
	}

	ev := Event{ID: id, From: from, To: to, At: item.UpdatedAt}
	subs := append([]func(Event){}, s.subs...)
	s.mu.Unlock()

	s.logger.Info("Listing status changed",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// ResetFailed moves a failed listing back to pending. This is the manual
// retry path; the processor never calls it.
func (s *Store) ResetFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			if err := s.items[i].Reset(); err != nil {
				return err
			}
			return s.persistLocked()
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// persistLocked rewrites the document atomically. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: encoding: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("queue: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("queue: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("queue: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("queue: replacing %s: %w", s.path, err)
	}
	return nil
}

func cloneListing(l listing.Listing) listing.Listing {
	out := l
	out.Photos = append([]string(nil), l.Photos...)
	if l.LastError != nil {
		e := *l.LastError
		out.LastError = &e
	}
	return out
}

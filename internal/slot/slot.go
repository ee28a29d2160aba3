// Package slot arbitrates the camera's limited upstream connections between
// the live preview session and the recorder.
package slot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrAlreadyHeld is returned when a holder acquires a slot it already has.
	ErrAlreadyHeld = errors.New("slot already held")
	// ErrBusy is returned when no unit is free right now.
	ErrBusy = errors.New("connection slot busy")
)

// Slot is a counting semaphore whose units are owned by named holders.
type Slot struct {
	capacity int64
	sem      *semaphore.Weighted

	mu       sync.Mutex
	holders  map[string]time.Time
	released chan struct{}
}

// New returns a slot with capacity units. Capacity below 1 is treated as 1,
// making the slot exclusive.
func New(capacity int) *Slot {
	if capacity < 1 {
		capacity = 1
	}
	return &Slot{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
		holders:  make(map[string]time.Time),
		released: make(chan struct{}),
	}
}

// Acquire blocks until a unit is free or ctx is done.
func (s *Slot) Acquire(ctx context.Context, holder string) error {
	if s.Holds(holder) {
		return fmt.Errorf("%s: %w", holder, ErrAlreadyHeld)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	return s.record(holder)
}

// TryAcquire takes a unit only if one is free right now.
func (s *Slot) TryAcquire(holder string) bool {
	if s.Holds(holder) {
		return false
	}
	if !s.sem.TryAcquire(1) {
		return false
	}
	return s.record(holder) == nil
}

// Hold runs fn while holding a unit under holder and releases it after.
// It fails with ErrBusy without calling fn when no unit is free.
func (s *Slot) Hold(holder string, fn func() error) error {
	if !s.TryAcquire(holder) {
		return fmt.Errorf("%s: %w", holder, ErrBusy)
	}
	defer s.Release(holder)
	return fn()
}

func (s *Slot) record(holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.holders[holder]; dup {
		s.sem.Release(1)
		return fmt.Errorf("%s: %w", holder, ErrAlreadyHeld)
	}
	s.holders[holder] = time.Now()
	return nil
}

// Release returns holder's unit. It reports false if holder held nothing.
func (s *Slot) Release(holder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holders[holder]; !ok {
		return false
	}
	delete(s.holders, holder)
	s.sem.Release(1)
	close(s.released)
	s.released = make(chan struct{})
	return true
}

func (s *Slot) Holds(holder string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.holders[holder]
	return ok
}

// Holders lists current holders in name order.
func (s *Slot) Holders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.holders))
	for h := range s.holders {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// HeldSince reports when holder acquired its unit.
func (s *Slot) HeldSince(holder string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.holders[holder]
	return t, ok
}

// Available is the number of free units.
func (s *Slot) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.capacity) - len(s.holders)
}

func (s *Slot) Capacity() int { return int(s.capacity) }

// Exclusive reports whether only one holder can connect at a time.
func (s *Slot) Exclusive() bool { return s.capacity == 1 }

// WaitReleased blocks until holder no longer holds a unit or ctx is done.
func (s *Slot) WaitReleased(ctx context.Context, holder string) error {
	for {
		s.mu.Lock()
		_, held := s.holders[holder]
		ch := s.released
		s.mu.Unlock()
		if !held {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

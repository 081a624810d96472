package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"ytfeed/youtube"
)

// AggregateStore holds the published aggregate. Readers always see a
// complete aggregate: Publish saves the new one first and swaps the
// in-memory pointer only after the save succeeded.
type AggregateStore struct {
	backend Backend

	publishMu   sync.Mutex
	current     atomic.Pointer[Aggregate]
	lastAttempt atomic.Pointer[AggregateRun]
}

// OpenAggregateStore loads the last published aggregate, if any.
func OpenAggregateStore(ctx context.Context, backend Backend) (*AggregateStore, error) {
	agg := &Aggregate{}
	if err := backend.Load(ctx, DocAggregate, agg); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		agg = &Aggregate{}
	}
	if agg.Items == nil {
		agg.Items = []youtube.VideoItem{}
	}

	s := &AggregateStore{backend: backend}
	s.current.Store(agg)
	if agg.Run != nil {
		run := *agg.Run
		s.lastAttempt.Store(&run)
	}
	return s, nil
}

// Snapshot returns the published aggregate. It is shared and must not be
// modified.
func (s *AggregateStore) Snapshot() *Aggregate {
	return s.current.Load()
}

// Publish makes items the new aggregate, described by run.
func (s *AggregateStore) Publish(ctx context.Context, items []youtube.VideoItem, run AggregateRun) (*Aggregate, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if items == nil {
		items = []youtube.VideoItem{}
	}
	next := &Aggregate{
		Version: s.current.Load().Version + 1,
		Run:     &run,
		Items:   slices.Clone(items),
	}
	if err := s.backend.Save(ctx, DocAggregate, next); err != nil {
		return nil, err
	}
	s.current.Store(next)
	s.RecordAttempt(run)
	return next, nil
}

// RecordAttempt remembers run as the most recent attempt without
// publishing anything. Used for failed and cancelled runs.
func (s *AggregateStore) RecordAttempt(run AggregateRun) {
	s.lastAttempt.Store(&run)
}

// LastAttempt returns the most recent run, published or not.
func (s *AggregateStore) LastAttempt() *AggregateRun {
	run := s.lastAttempt.Load()
	if run == nil {
		return nil
	}
	out := *run
	return &out
}

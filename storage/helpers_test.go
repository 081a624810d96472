package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// channelID builds a canonical id from a single repeated character.
func channelID(c string) string {
	return "UC" + strings.Repeat(c, 22)
}

// memBackend is an in-memory Backend that can be told to fail saves.
type memBackend struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failSave error
	saves    int
}

func newMemBackend() *memBackend {
	return &memBackend{docs: map[string][]byte{}}
}

func (m *memBackend) Load(ctx context.Context, name string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[name]
	if !ok {
		return &StorageError{Op: "read", Entity: name, Err: ErrNotFound}
	}
	return json.Unmarshal(data, v)
}

func (m *memBackend) Save(ctx context.Context, name string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return &StorageError{Op: "write", Entity: name, Err: m.failSave}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.docs[name] = data
	m.saves++
	return nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) setFailSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = err
}

var errDiskFull = errors.New("disk full")

func newTestStateStore(t *testing.T, backend Backend) *StateStore {
	t.Helper()
	s, err := OpenStateStore(context.Background(), backend)
	if err != nil {
		t.Fatalf("OpenStateStore() error = %v", err)
	}
	return s
}

// testBackendRoundTrip exercises the Backend contract shared by every
// implementation.
func testBackendRoundTrip(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	var st State
	if err := b.Load(ctx, DocState, &st); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() before save = %v, want ErrNotFound", err)
	}

	want := State{
		Version:       3,
		Subscriptions: []Subscription{{ID: channelID("a"), Title: "A"}},
		Redirects:     map[string]string{"handle_foo": channelID("a")},
	}
	if err := b.Save(ctx, DocState, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	want.Version = 4
	if err := b.Save(ctx, DocState, want); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	var got State
	if err := b.Load(ctx, DocState, &got); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Version != 4 {
		t.Errorf("Version = %d, want 4", got.Version)
	}
	if len(got.Subscriptions) != 1 || got.Subscriptions[0].ID != channelID("a") {
		t.Errorf("Subscriptions = %+v", got.Subscriptions)
	}
	if got.Redirects["handle_foo"] != channelID("a") {
		t.Errorf("Redirects = %v", got.Redirects)
	}

	var agg Aggregate
	if err := b.Load(ctx, DocAggregate, &agg); !errors.Is(err, ErrNotFound) {
		t.Errorf("documents are independent: Load(aggregate) = %v, want ErrNotFound", err)
	}
}

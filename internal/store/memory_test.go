package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type item struct {
	ID    string
	Count int
}

func TestMemory_InsertGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[item]()

	if err := m.Insert(ctx, "a", item{ID: "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := m.Insert(ctx, "a", item{ID: "a"}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, err := m.Get(ctx, "a")
	if err != nil || got.ID != "a" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemory_ListKeepsInsertionOrderAcrossSlotReuse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[item]()
	for _, id := range []string{"a", "b", "c"} {
		_ = m.Insert(ctx, id, item{ID: id})
	}
	_ = m.Delete(ctx, "a")
	_ = m.Insert(ctx, "d", item{ID: "d"}) // reuses a's slot

	all, _ := m.List(ctx, nil)
	var ids []string
	for _, it := range all {
		ids = append(ids, it.ID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "c" || ids[2] != "d" {
		t.Fatalf("unexpected order: %v", ids)
	}
	if m.Len() != 3 {
		t.Fatalf("expected len 3, got %d", m.Len())
	}

	odd, _ := m.List(ctx, func(it item) bool { return it.ID == "c" })
	if len(odd) != 1 || odd[0].ID != "c" {
		t.Fatalf("filter failed: %+v", odd)
	}
}

func TestMemory_UpdateErrorLeavesValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[item]()
	_ = m.Insert(ctx, "a", item{ID: "a", Count: 1})

	boom := errors.New("boom")
	if _, err := m.Update(ctx, "a", func(it *item) error {
		it.Count = 99
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := m.Get(ctx, "a")
	if got.Count != 1 {
		t.Fatalf("expected unchanged value, got %d", got.Count)
	}
	if _, err := m.Update(ctx, "missing", func(*item) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[item]()
	_ = m.Insert(ctx, "a", item{ID: "a"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Update(ctx, "a", func(it *item) error {
				it.Count++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := m.Get(ctx, "a")
	if got.Count != 50 {
		t.Fatalf("expected 50, got %d", got.Count)
	}
}

package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreInsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	record, err := s.Insert(ctx, "users", Record{"name": "alice"}, "")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	id, _ := record["id"].(string)
	if id == "" {
		t.Fatal("Insert should assign an id")
	}

	got, err := s.Get(ctx, "users", id, "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["name"] != "alice" {
		t.Errorf("Expected name alice, got %v", got["name"])
	}

	// Mutating the returned record must not touch the stored copy
	got["name"] = "mallory"
	again, _ := s.Get(ctx, "users", id, "")
	if again["name"] != "alice" {
		t.Error("Store handed out an aliased record")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "users", "nope", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListFilterAndCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status := "open"
		if i%2 == 1 {
			status = "closed"
		}
		if _, err := s.Insert(ctx, "tickets", Record{"status": status}, ""); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	res, err := s.List(ctx, "tickets", ListOptions{Filter: map[string]interface{}{"status": "open"}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Records) != 3 {
		t.Errorf("Expected 3 open tickets, got %d", len(res.Records))
	}

	// Paginate through everything two at a time
	seen := 0
	cursor := ""
	for {
		page, err := s.List(ctx, "tickets", ListOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		seen += len(page.Records)
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	if seen != 5 {
		t.Errorf("Pagination saw %d records, expected 5", seen)
	}
}

func TestMemoryStorePartitionIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, _ := s.Insert(ctx, "docs", Record{"v": "a"}, "tenant-a")
	id, _ := rec["id"].(string)

	if _, err := s.Get(ctx, "docs", id, "tenant-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Record leaked across partitions: %v", err)
	}
	if _, err := s.Get(ctx, "docs", id, "tenant-a"); err != nil {
		t.Errorf("Record missing from its own partition: %v", err)
	}
}

func TestMemoryStoreUpdateMergesPatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, _ := s.Insert(ctx, "users", Record{"name": "alice", "city": "berlin"}, "")
	id, _ := rec["id"].(string)

	updated, err := s.Update(ctx, "users", id, Record{"city": "munich"}, "")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated["name"] != "alice" {
		t.Errorf("Update dropped untouched field, got %v", updated["name"])
	}
	if updated["city"] != "munich" {
		t.Errorf("Update did not apply patch, got %v", updated["city"])
	}

	if _, err := s.Update(ctx, "users", "missing", Record{"x": 1}, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing record, got %v", err)
	}
}

func TestMemoryStoreChangeEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	type change struct {
		resource string
		event    EventKind
		record   Record
	}
	var changes []change
	detach := s.OnChange(func(resource string, event EventKind, record Record) {
		changes = append(changes, change{resource, event, record})
	})

	rec, _ := s.Insert(ctx, "users", Record{"name": "alice"}, "")
	id, _ := rec["id"].(string)
	s.Update(ctx, "users", id, Record{"name": "alicia"}, "")
	s.Delete(ctx, "users", id, "")

	if len(changes) != 3 {
		t.Fatalf("Expected 3 change events, got %d", len(changes))
	}
	if changes[0].event != EventInsert || changes[1].event != EventUpdate || changes[2].event != EventDelete {
		t.Errorf("Wrong event sequence: %+v", changes)
	}
	if changes[1].record["name"] != "alicia" {
		t.Errorf("Update event should carry the new record, got %v", changes[1].record)
	}
	if changes[2].record["name"] != "alicia" {
		t.Errorf("Delete event should carry the removed record, got %v", changes[2].record)
	}

	// After detach no more events arrive
	detach()
	s.Insert(ctx, "users", Record{"name": "bob"}, "")
	if len(changes) != 3 {
		t.Errorf("Detached handler still received events, total %d", len(changes))
	}
}

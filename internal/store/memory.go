package store

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the in-process reference implementation. It backs tests
// and the default dev configuration.
type MemoryStore struct {
	mu sync.RWMutex
	// partition -> resource -> id -> record
	data map[string]map[string]map[string]Record
	feed changeFeed
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]map[string]Record),
	}
}

func (s *MemoryStore) OnChange(handler ChangeHandler) func() {
	return s.feed.attach(handler)
}

func (s *MemoryStore) Get(ctx context.Context, resource, id, partition string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.data[partition][resource][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *MemoryStore) List(ctx context.Context, resource string, opts ListOptions) (*ListResult, error) {
	s.mu.RLock()
	records := make([]Record, 0)
	for _, record := range s.data[opts.Partition][resource] {
		if recordMatches(record, opts.Filter) {
			records = append(records, copyRecord(record))
		}
	}
	s.mu.RUnlock()

	// Map iteration order is random; sort by id so cursors stay stable.
	sort.Slice(records, func(i, j int) bool {
		a, _ := records[i]["id"].(string)
		b, _ := records[j]["id"].(string)
		return a < b
	})

	offset := 0
	if opts.Cursor != "" {
		parsed, err := strconv.Atoi(opts.Cursor)
		if err == nil && parsed > 0 {
			offset = parsed
		}
	}
	if offset > len(records) {
		offset = len(records)
	}
	records = records[offset:]

	next := ""
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
		next = strconv.Itoa(offset + opts.Limit)
	}

	return &ListResult{Records: records, Cursor: next}, nil
}

func (s *MemoryStore) Insert(ctx context.Context, resource string, data Record, partition string) (Record, error) {
	record := copyRecord(data)
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["id"] = id
	}

	s.mu.Lock()
	if s.data[partition] == nil {
		s.data[partition] = make(map[string]map[string]Record)
	}
	if s.data[partition][resource] == nil {
		s.data[partition][resource] = make(map[string]Record)
	}
	s.data[partition][resource][id] = record
	s.mu.Unlock()

	out := copyRecord(record)
	s.feed.emit(resource, EventInsert, out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, resource, id string, data Record, partition string) (Record, error) {
	s.mu.Lock()
	existing, ok := s.data[partition][resource][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	// Partial update: patch fields are merged into the stored record.
	record := copyRecord(existing)
	for k, v := range data {
		record[k] = v
	}
	record["id"] = id
	s.data[partition][resource][id] = record
	s.mu.Unlock()

	out := copyRecord(record)
	s.feed.emit(resource, EventUpdate, out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, resource, id, partition string) (Record, error) {
	s.mu.Lock()
	record, ok := s.data[partition][resource][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(s.data[partition][resource], id)
	s.mu.Unlock()

	out := copyRecord(record)
	s.feed.emit(resource, EventDelete, out)
	return out, nil
}

func copyRecord(record Record) Record {
	if record == nil {
		return Record{}
	}
	out := make(Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

func recordMatches(record Record, filter map[string]interface{}) bool {
	for key, want := range filter {
		got, ok := record[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

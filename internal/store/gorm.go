package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// document is the row shape for the SQL-backed store. The payload is kept
// as a JSON blob so collections stay schemaless.
type document struct {
	ID        uint   `gorm:"primaryKey"`
	Resource  string `gorm:"size:128;index:idx_doc_key,unique"`
	Partition string `gorm:"size:128;index:idx_doc_key,unique"`
	DocID     string `gorm:"size:64;index:idx_doc_key,unique"`
	Data      []byte `gorm:"type:longblob"`
}

func (document) TableName() string { return "documents" }

// GormStore persists documents in a relational table. Equality filters are
// applied after decoding since the payload is opaque to SQL.
type GormStore struct {
	db   *gorm.DB
	feed changeFeed
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) OnChange(handler ChangeHandler) func() {
	return s.feed.attach(handler)
}

func (s *GormStore) Get(ctx context.Context, resource, id, partition string) (Record, error) {
	var doc document
	err := s.db.WithContext(ctx).
		Where("resource = ? AND `partition` = ? AND doc_id = ?", resource, partition, id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(doc)
}

func (s *GormStore) List(ctx context.Context, resource string, opts ListOptions) (*ListResult, error) {
	var docs []document
	err := s.db.WithContext(ctx).
		Where("resource = ? AND `partition` = ?", resource, opts.Partition).
		Order("doc_id").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		record, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		if recordMatches(record, opts.Filter) {
			records = append(records, record)
		}
	}

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

func (s *GormStore) Insert(ctx context.Context, resource string, data Record, partition string) (Record, error) {
	record := copyRecord(data)
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["id"] = id
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	doc := document{Resource: resource, Partition: partition, DocID: id, Data: payload}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}

	s.feed.emit(resource, EventInsert, copyRecord(record))
	return record, nil
}

func (s *GormStore) Update(ctx context.Context, resource, id string, data Record, partition string) (Record, error) {
	var doc document
	err := s.db.WithContext(ctx).
		Where("resource = ? AND `partition` = ? AND doc_id = ?", resource, partition, id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record, err := decodeDoc(doc)
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		record[k] = v
	}
	record["id"] = id

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&doc).Update("data", payload).Error; err != nil {
		return nil, err
	}

	s.feed.emit(resource, EventUpdate, copyRecord(record))
	return record, nil
}

func (s *GormStore) Delete(ctx context.Context, resource, id, partition string) (Record, error) {
	var doc document
	err := s.db.WithContext(ctx).
		Where("resource = ? AND `partition` = ? AND doc_id = ?", resource, partition, id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record, err := decodeDoc(doc)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&doc).Error; err != nil {
		return nil, err
	}

	s.feed.emit(resource, EventDelete, copyRecord(record))
	return record, nil
}

func decodeDoc(doc document) (Record, error) {
	record := make(Record)
	if err := json.Unmarshal(doc.Data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

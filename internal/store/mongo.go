package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps each resource in its own collection. Records carry their
// id in the "id" field (the Mongo ObjectID stays internal) and the
// partition in "_partition".
type MongoStore struct {
	db   *mongo.Database
	feed changeFeed
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) OnChange(handler ChangeHandler) func() {
	return s.feed.attach(handler)
}

func (s *MongoStore) Get(ctx context.Context, resource, id, partition string) (Record, error) {
	var doc bson.M
	err := s.db.Collection(resource).FindOne(ctx, keyFilter(id, partition)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cleanDoc(doc), nil
}

func (s *MongoStore) List(ctx context.Context, resource string, opts ListOptions) (*ListResult, error) {
	filter := bson.M{"_partition": opts.Partition}
	for k, v := range opts.Filter {
		filter[k] = v
	}

	offset := int64(0)
	if opts.Cursor != "" {
		parsed, err := strconv.ParseInt(opts.Cursor, 10, 64)
		if err == nil && parsed > 0 {
			offset = parsed
		}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}}).SetSkip(offset)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.db.Collection(resource).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]Record, 0)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, cleanDoc(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	next := ""
	if opts.Limit > 0 && len(records) == opts.Limit {
		next = strconv.FormatInt(offset+int64(opts.Limit), 10)
	}

	return &ListResult{Records: records, Cursor: next}, nil
}

func (s *MongoStore) Insert(ctx context.Context, resource string, data Record, partition string) (Record, error) {
	record := copyRecord(data)
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["id"] = id
	}

	doc := bson.M{"_partition": partition}
	for k, v := range record {
		doc[k] = v
	}
	if _, err := s.db.Collection(resource).InsertOne(ctx, doc); err != nil {
		return nil, err
	}

	s.feed.emit(resource, EventInsert, copyRecord(record))
	return record, nil
}

func (s *MongoStore) Update(ctx context.Context, resource, id string, data Record, partition string) (Record, error) {
	patch := updatePatch(data)
	if len(patch) == 0 {
		// Mongo rejects an empty $set. The other backends treat a patch
		// with nothing to merge as a read, so do the same here.
		record, err := s.Get(ctx, resource, id, partition)
		if err != nil {
			return nil, err
		}
		s.feed.emit(resource, EventUpdate, copyRecord(record))
		return record, nil
	}

	after := options.After
	var doc bson.M
	err := s.db.Collection(resource).FindOneAndUpdate(
		ctx,
		keyFilter(id, partition),
		bson.M{"$set": patch},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record := cleanDoc(doc)
	s.feed.emit(resource, EventUpdate, copyRecord(record))
	return record, nil
}

func (s *MongoStore) Delete(ctx context.Context, resource, id, partition string) (Record, error) {
	var doc bson.M
	err := s.db.Collection(resource).FindOneAndDelete(ctx, keyFilter(id, partition)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record := cleanDoc(doc)
	s.feed.emit(resource, EventDelete, copyRecord(record))
	return record, nil
}

// updatePatch builds the $set document for an update. The id field is
// immutable and never part of the patch.
func updatePatch(data Record) bson.M {
	patch := bson.M{}
	for k, v := range data {
		if k == "id" {
			continue
		}
		patch[k] = v
	}
	return patch
}

func keyFilter(id, partition string) bson.M {
	return bson.M{"id": id, "_partition": partition}
}

func cleanDoc(doc bson.M) Record {
	record := make(Record, len(doc))
	for k, v := range doc {
		if k == "_id" || k == "_partition" {
			continue
		}
		record[k] = v
	}
	return record
}

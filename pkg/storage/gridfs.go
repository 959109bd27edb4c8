package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultBucket is the GridFS bucket holding assignment files.
const DefaultBucket = "studentfiles"

// GridFSStore keeps content in a MongoDB GridFS bucket.
type GridFSStore struct {
	bucket *gridfs.Bucket
}

var _ ContentStore = (*GridFSStore)(nil)

// NewGridFSStore opens the named bucket on the database.
func NewGridFSStore(db *mongo.Database, bucketName string) (*GridFSStore, error) {
	if bucketName == "" {
		bucketName = DefaultBucket
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

type gridFSFile struct {
	ID         primitive.ObjectID `bson:"_id"`
	Length     int64              `bson:"length"`
	UploadDate time.Time          `bson:"uploadDate"`
	Name       string             `bson:"filename"`
	Metadata   map[string]string  `bson:"metadata"`
}

func (f gridFSFile) descriptor() Descriptor {
	return Descriptor{
		ID:          f.ID.Hex(),
		Name:        f.Name,
		ContentType: f.Metadata[MetaContentType],
		Size:        f.Length,
		UploadedAt:  f.UploadDate,
		Metadata:    f.Metadata,
	}
}

// Put uploads the stream as a new GridFS file.
func (s *GridFSStore) Put(ctx context.Context, name string, r io.Reader, meta map[string]string) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(deadline); err != nil {
			return "", fmt.Errorf("set gridfs deadline: %w", err)
		}
	}
	doc := bson.M{}
	for k, v := range meta {
		doc[k] = v
	}
	id, err := s.bucket.UploadFromStream(name, r, options.GridFSUpload().SetMetadata(doc))
	if err != nil {
		return "", fmt.Errorf("upload gridfs file: %w", err)
	}
	return id.Hex(), nil
}

// Get opens a download stream for the file.
func (s *GridFSStore) Get(ctx context.Context, id string) (io.ReadCloser, *Descriptor, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(deadline); err != nil {
			return nil, nil, fmt.Errorf("set gridfs deadline: %w", err)
		}
	}
	stream, err := s.bucket.OpenDownloadStream(oid)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open gridfs file: %w", err)
	}

	file := stream.GetFile()
	meta := map[string]string{}
	if len(file.Metadata) > 0 {
		if err := bson.Unmarshal(file.Metadata, &meta); err != nil {
			_ = stream.Close()
			return nil, nil, fmt.Errorf("decode gridfs metadata: %w", err)
		}
	}
	desc := gridFSFile{ID: oid, Length: file.Length, UploadDate: file.UploadDate, Name: file.Name, Metadata: meta}.descriptor()
	return stream, &desc, nil
}

// Delete removes the file and its chunks. Missing files are ignored.
func (s *GridFSStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	if err := s.bucket.DeleteContext(ctx, oid); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("delete gridfs file: %w", err)
	}
	return nil
}

// FindByMetadata lists files whose metadata contains every match pair.
func (s *GridFSStore) FindByMetadata(ctx context.Context, match map[string]string) ([]Descriptor, error) {
	filter := bson.D{}
	for k, v := range match {
		filter = append(filter, bson.E{Key: "metadata." + k, Value: v})
	}
	cursor, err := s.bucket.FindContext(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find gridfs files: %w", err)
	}
	defer cursor.Close(ctx) //nolint:errcheck

	var files []gridFSFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode gridfs files: %w", err)
	}
	result := make([]Descriptor, 0, len(files))
	for _, f := range files {
		result = append(result, f.descriptor())
	}
	return result, nil
}

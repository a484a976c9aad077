package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPConfig selects the project, Firestore collection and bucket backing the
// library.
type GCPConfig struct {
	ProjectID  string
	Collection string
	Bucket     string
}

func (c GCPConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("projectID must be provided to use GCP storage")
	}
	if c.Bucket == "" {
		return fmt.Errorf("a bucket must be provided to use GCP storage")
	}
	return nil
}

// GCPClients bundles the clients shared by the GCP backends.
type GCPClients struct {
	Firestore *firestore.Client
	Storage   *gcs.Client
}

func DialGCP(ctx context.Context, cfg GCPConfig) (*GCPClients, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fs, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	st, err := gcs.NewClient(ctx)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	slog.Info("GCP storage initialised", "project", cfg.ProjectID, "bucket", cfg.Bucket, "collection", cfg.Collection)
	return &GCPClients{Firestore: fs, Storage: st}, nil
}

func (c *GCPClients) Close() error {
	return errors.Join(c.Firestore.Close(), c.Storage.Close())
}

// FirestoreRecords stores each record as one document of a collection. T
// should carry firestore struct tags.
type FirestoreRecords[T any] struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreRecords[T any](client *firestore.Client, collection string) *FirestoreRecords[T] {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreRecords[T]{client: client, collection: collection}
}

func (s *FirestoreRecords[T]) Put(ctx context.Context, id string, v T) error {
	if _, err := s.client.Collection(s.collection).Doc(id).Set(ctx, v); err != nil {
		return fmt.Errorf("failed to write document %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreRecords[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return v, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return v, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	if err := snap.DataTo(&v); err != nil {
		return v, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return v, nil
}

func (s *FirestoreRecords[T]) List(ctx context.Context) ([]T, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()
	var out []T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		var v T
		if err := doc.DataTo(&v); err != nil {
			slog.Warn("skipping undecodable document", "id", doc.Ref.ID, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *FirestoreRecords[T]) Delete(ctx context.Context, id string) error {
	ref := s.client.Collection(s.collection).Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// GCSBlobs stores each blob as one object of a bucket.
type GCSBlobs struct {
	bucket *gcs.BucketHandle
	prefix string
}

func NewGCSBlobs(client *gcs.Client, bucket, prefix string) *GCSBlobs {
	return &GCSBlobs{bucket: client.Bucket(bucket), prefix: prefix}
}

func (b *GCSBlobs) object(id string) *gcs.ObjectHandle {
	return b.bucket.Object(b.prefix + id)
}

func (b *GCSBlobs) PutBlob(ctx context.Context, id string, data []byte) error {
	w := b.object(id).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func (b *GCSBlobs) GetBlob(ctx context.Context, id string) ([]byte, error) {
	r, err := b.object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", id, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBlobs) DeleteBlob(ctx context.Context, id string) error {
	if err := b.object(id).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", id, err)
	}
	return nil
}

// Keys lists the ids of stored blobs.
func (b *GCSBlobs) Keys(ctx context.Context) ([]string, error) {
	it := b.bucket.Objects(ctx, &gcs.Query{Prefix: b.prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		keys = append(keys, attrs.Name[len(b.prefix):])
	}
	return keys, nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

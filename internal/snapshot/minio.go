package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const digestMetaKey = "Snapshot-Digest"

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps one object per page. PutObject replaces the whole
// object, so concurrent saves resolve as last writer wins.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey is the object name a page's snapshot is stored under.
func ObjectKey(pageID string) string {
	return "pages/" + pageID + ".crdt"
}

func (m *MinioStore) PutSnapshot(ctx context.Context, pageID string, snap Snapshot) error {
	_, err := m.client.PutObject(ctx, m.bucket, ObjectKey(pageID), bytes.NewReader(snap.Data), int64(len(snap.Data)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{digestMetaKey: snap.Digest},
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", pageID, err)
	}
	return nil
}

// GetSnapshot returns nil when the page has no stored object.
func (m *MinioStore) GetSnapshot(ctx context.Context, pageID string) (*Snapshot, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, ObjectKey(pageID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", pageID, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("stat snapshot %s: %w", pageID, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", pageID, err)
	}
	if data == nil {
		data = []byte{}
	}
	return &Snapshot{
		Data:    data,
		Digest:  info.UserMetadata[digestMetaKey],
		SavedAt: info.LastModified.UTC().Truncate(time.Second),
	}, nil
}

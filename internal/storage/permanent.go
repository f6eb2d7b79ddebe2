package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrPermanentNotFound indicates the requested file is not in the permanent store.
var ErrPermanentNotFound = errors.New("file not found")

// PermanentStore holds files that outlive the retention windows.
type PermanentStore interface {
	// Put moves the file at srcPath into the store under name.
	Put(ctx context.Context, name, srcPath string) error
	// Open returns the stored file and its size.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
	// Remove deletes a stored file. Removing a missing file is not an error.
	Remove(ctx context.Context, name string) error
	// Name identifies the backend in logs.
	Name() string
}

// LocalStore is a PermanentStore backed by a directory.
type LocalStore struct {
	dir *Dir
}

// NewLocalStore creates the permanent directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	d, err := OpenDir(dir)
	if err != nil {
		return nil, fmt.Errorf("permanent directory: %w", err)
	}
	return &LocalStore{dir: d}, nil
}

// Name returns "local".
func (l *LocalStore) Name() string { return "local" }

// Put moves srcPath into the permanent directory.
func (l *LocalStore) Put(_ context.Context, name, srcPath string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return l.dir.MoveIn(srcPath, name)
}

// Open opens a stored file.
func (l *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	if err := validateName(name); err != nil {
		return nil, 0, ErrPermanentNotFound
	}
	f, err := l.dir.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrPermanentNotFound
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, ErrPermanentNotFound
	}
	return f, info.Size(), nil
}

// Remove deletes a stored file.
func (l *LocalStore) Remove(_ context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return l.dir.Remove(name)
}

// MinioConfig configures an S3-compatible permanent store.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// MinioStore is a PermanentStore backed by an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects to the bucket described by cfg.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("permanent store bucket is required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		useSSL = true
	} else if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		useSSL = false
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Name returns "s3".
func (m *MinioStore) Name() string { return "s3" }

// EnsureBucket creates the bucket if it doesn't exist.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	return nil
}

// Put uploads srcPath and removes the local copy.
func (m *MinioStore) Put(ctx context.Context, name, srcPath string) error {
	if err := validateName(name); err != nil {
		return err
	}
	_, err := m.client.FPutObject(ctx, m.bucket, m.key(name), srcPath, minio.PutObjectOptions{
		ContentType: ContentType(name),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s after upload: %w", srcPath, err)
	}
	return nil
}

// Open downloads a stored object.
func (m *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := validateName(name); err != nil {
		return nil, 0, ErrPermanentNotFound
	}
	obj, err := m.client.GetObject(ctx, m.bucket, m.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("getting %s: %w", name, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrPermanentNotFound
		}
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	return obj, info.Size, nil
}

// Remove deletes a stored object.
func (m *MinioStore) Remove(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

func (m *MinioStore) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cotowatch/config"
	"cotowatch/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage stores HLS output in a MinIO/S3 bucket.
type MinioStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioStorage connects and makes sure the bucket exists.
func NewMinioStorage(ctx context.Context, cfg *config.Config) (*MinioStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("Created MinIO bucket", logger.String("bucket", cfg.MinioBucket))
	}

	// Players go through the /media/ proxy unless no public prefix is configured.
	baseURL := cfg.PublicStreamURL
	if baseURL == "" {
		scheme := "http"
		if cfg.MinioUseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.MinioEndpoint, cfg.MinioBucket)
	}
	return &MinioStorage{
		client:  client,
		bucket:  cfg.MinioBucket,
		baseURL: baseURL,
	}, nil
}

func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return s.list(ctx, prefix, false)
}

// ListRecursive lists every object below prefix.
func (s *MinioStorage) ListRecursive(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return s.list(ctx, prefix, true)
}

func (s *MinioStorage) list(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		out = append(out, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return out, nil
}

// DeletePrefix removes every object under prefix and returns how many were removed.
func (s *MinioStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.ListRecursive(ctx, prefix)
	if err != nil {
		return 0, err
	}
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, o := range objects {
			objectsCh <- minio.ObjectInfo{Key: o.Key}
		}
	}()
	failed := 0
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		logger.Warn("Failed to remove object", logger.String("key", rErr.ObjectName), logger.ErrorField(rErr.Err))
	}
	return len(objects) - failed, nil
}

func (s *MinioStorage) PublishDir(ctx context.Context, localDir, prefix string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return err
	}
	// Segments first so the manifest never references a missing object.
	var manifests []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".m3u8") {
			manifests = append(manifests, e.Name())
			continue
		}
		if err := s.putFile(ctx, filepath.Join(localDir, e.Name()), path.Join(prefix, e.Name())); err != nil {
			return err
		}
	}
	for _, name := range manifests {
		if err := s.putFile(ctx, filepath.Join(localDir, name), path.Join(prefix, name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *MinioStorage) putFile(ctx context.Context, localPath, key string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Open streams one object. The caller closes the reader.
func (s *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("failed to get %s: %w", key, err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ObjectInfo{}, os.ErrNotExist
		}
		return nil, ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return obj, ObjectInfo{
		Key:          key,
		Size:         st.Size,
		LastModified: st.LastModified,
		ContentType:  contentType(key),
	}, nil
}

func (s *MinioStorage) URL(key string) string {
	return joinURL(s.baseURL, key)
}

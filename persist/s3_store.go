package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aosp-pb/system-vold/internal/debug"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements the Store interface against an S3-compatible object
// store (MinIO), used to escrow sealed key blobs off the device.
//
// Object layout:
//
//	bucketName/
//	└── [keyPrefix/]<blob path>
//
// S3 object puts are already atomic (an object is either the old version or
// the fully written new one), so WriteAtomically ignores tmpPath.
type S3Store struct {
	// client is the MinIO client used to interact with the server.
	client *minio.Client

	// bucketName is the bucket holding the key blobs.
	bucketName string

	// keyPrefix is an optional prefix for the object keys, allowing for
	// namespace separation if multiple applications share the bucket.
	keyPrefix string
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string // The endpoint for the S3 service.
	AccessKeyID     string // The Access Key ID for accessing the S3 service.
	SecretAccessKey string // The Secret Access Key for accessing the S3 service.
	Bucket          string // The S3 bucket to use.
	KeyPrefix       string // The prefix for objects stored in the bucket.
	UseSSL          bool   // Whether to use SSL for the connection.
	Region          string // The region of the S3 bucket.
}

// NewS3Store initializes a new S3Store, establishes a connection to the
// server and verifies the bucket exists.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for s3 store")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, store.bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", store.bucketName)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes a new S3Store instance from the given StoreConfig.
func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for MinIO: %s", config.Type)
	}

	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config)
}

func (s3s *S3Store) objectName(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("blob path cannot be empty")
	}
	name := strings.TrimPrefix(path, "/")
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("blob path contains directory traversal")
	}
	if s3s.keyPrefix != "" {
		name = strings.TrimSuffix(s3s.keyPrefix, "/") + "/" + name
	}
	return name, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (s3s *S3Store) Read(path string) ([]byte, error) {
	name, err := s3s.objectName(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	obj, err := s3s.client.GetObject(ctx, s3s.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}

	debug.Print("Read: %d bytes from s3://%s/%s\n", len(data), s3s.bucketName, name)
	return data, nil
}

func (s3s *S3Store) Exists(path string) (bool, error) {
	name, err := s3s.objectName(path)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err = s3s.client.StatObject(ctx, s3s.bucketName, name, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", name, err)
	}
	return true, nil
}

// WriteAtomically uploads the blob in a single put. tmpPath is unused: the
// object store never exposes a partially written object.
func (s3s *S3Store) WriteAtomically(path, _ string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("blob data is required")
	}

	name, err := s3s.objectName(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err = s3s.client.PutObject(ctx, s3s.bucketName, name,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", name, err)
	}

	debug.Print("WriteAtomically: %d bytes to s3://%s/%s\n", len(data), s3s.bucketName, name)
	return nil
}

func (s3s *S3Store) Delete(path string) error {
	name, err := s3s.objectName(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// RemoveObject succeeds on missing keys, so check first to surface
	// ErrNotFound the way the filesystem backend does.
	_, err = s3s.client.StatObject(ctx, s3s.bucketName, name, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("failed to stat object %s: %w", name, err)
	}

	if err = s3s.client.RemoveObject(ctx, s3s.bucketName, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", name, err)
	}
	return nil
}

func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach object store: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

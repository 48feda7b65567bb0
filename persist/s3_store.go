package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3-compatible backend.
type S3Options struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"-" yaml:"-"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	Region          string `json:"region" yaml:"region"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
	Timeout         time.Duration
}

const defaultS3Timeout = 30 * time.Second

// S3Store keeps vault state in an S3-compatible bucket. Object writes
// are durable on success, so the journal needs no extra sync step.
type S3Store struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewS3Store(options S3Options) (*S3Store, error) {
	if options.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if options.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client, err := minio.New(options.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(options.AccessKeyID, options.SecretAccessKey, ""),
		Secure: options.UseSSL,
		Region: options.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultS3Timeout
	}

	store := &S3Store{
		client:  client,
		bucket:  options.Bucket,
		prefix:  strings.Trim(options.Prefix, "/"),
		timeout: timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, options.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", options.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", options.Bucket)
	}

	return store, nil
}

func (s *S3Store) SaveVerifier(data []byte) error {
	return s.put(verifierFile, data)
}

func (s *S3Store) LoadVerifier() ([]byte, error) {
	return s.get(verifierFile)
}

func (s *S3Store) SaveDatabaseKey(data []byte) error {
	return s.put(databaseKeyFile, data)
}

func (s *S3Store) LoadDatabaseKey() ([]byte, error) {
	return s.get(databaseKeyFile)
}

func (s *S3Store) SaveJournal(data []byte) error {
	return s.put(journalFile, data)
}

func (s *S3Store) LoadJournal() ([]byte, error) {
	return s.get(journalFile)
}

func (s *S3Store) ClearJournal() error {
	err := s.remove(journalFile)
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (s *S3Store) SaveCredential(id string, data []byte) error {
	if err := validateCredentialID(id); err != nil {
		return err
	}
	return s.put(credentialKey(id), data)
}

func (s *S3Store) LoadCredential(id string) ([]byte, error) {
	if err := validateCredentialID(id); err != nil {
		return nil, err
	}
	return s.get(credentialKey(id))
}

func (s *S3Store) DeleteCredential(id string) error {
	if err := validateCredentialID(id); err != nil {
		return err
	}
	return s.remove(credentialKey(id))
}

func (s *S3Store) CredentialExists(id string) (bool, error) {
	if err := validateCredentialID(id); err != nil {
		return false, err
	}

	ctx, cancel := s.opContext()
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucket, s.objectKey(credentialKey(id)), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat credential %s: %w", id, err)
	}
	return true, nil
}

func (s *S3Store) Ping() error {
	ctx, cancel := s.opContext()
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3 ping failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s no longer exists", s.bucket)
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) GetType() StoreType {
	return StoreTypeS3
}

func (s *S3Store) put(name string, data []byte) error {
	ctx, cancel := s.opContext()
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(name),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) get(name string) ([]byte, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func (s *S3Store) remove(name string) error {
	ctx, cancel := s.opContext()
	defer cancel()

	key := s.objectKey(name)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Store) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func credentialKey(id string) string {
	return credentialsDir + "/" + id + ".bin"
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

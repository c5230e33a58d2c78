package cram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Storage reads and writes CRAM, BAM and reference files on the local
// filesystem or in S3.
type Storage interface {
	// ReadFile reads a whole file
	ReadFile(name string) ([]byte, error)

	// Open opens a file for streaming reads
	Open(name string) (io.ReadCloser, error)

	// Create creates or replaces a file; the data is committed on Close
	Create(name string) (io.WriteCloser, error)

	// List lists files under a prefix, relative to the base path
	List(prefix string) ([]string, error)

	// Exists checks if a file exists
	Exists(name string) (bool, error)

	// BasePath returns the base path
	BasePath() string

	// IsS3 returns true if this is S3 storage
	IsS3() bool
}

// IsS3URI reports whether p names an S3 object.
func IsS3URI(p string) bool {
	return strings.HasPrefix(p, "s3://")
}

// NewStorage returns the storage rooted at base: S3 for s3:// URIs, the
// local filesystem otherwise.
func NewStorage(ctx context.Context, base string) (Storage, error) {
	if IsS3URI(base) {
		return NewS3Storage(ctx, base)
	}
	return NewLocalStorage(base), nil
}

// SplitPath splits a file path or S3 URI into its directory and file name.
func SplitPath(p string) (dir, name string) {
	if IsS3URI(p) {
		i := strings.LastIndex(p, "/")
		if i < len("s3://") {
			return p, ""
		}
		return p[:i], p[i+1:]
	}
	return filepath.Dir(p), filepath.Base(p)
}

// OpenPath opens the file or S3 object p for reading.
func OpenPath(ctx context.Context, p string) (io.ReadCloser, error) {
	if !IsS3URI(p) {
		return os.Open(p)
	}
	dir, name := SplitPath(p)
	s, err := NewStorage(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.Open(name)
}

// CreatePath creates the file or S3 object p.
func CreatePath(ctx context.Context, p string) (io.WriteCloser, error) {
	if !IsS3URI(p) {
		return os.Create(p)
	}
	dir, name := SplitPath(p)
	s, err := NewStorage(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.Create(name)
}

// LocalStorage implements Storage for the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage backend
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

func (s *LocalStorage) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.basePath, name))
}

func (s *LocalStorage) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.basePath, name))
}

func (s *LocalStorage) Create(name string) (io.WriteCloser, error) {
	fullPath := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}
	return os.Create(fullPath)
}

func (s *LocalStorage) List(prefix string) ([]string, error) {
	var files []string
	err := filepath.Walk(filepath.Join(s.basePath, prefix), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(s.basePath, p)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

func (s *LocalStorage) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.basePath, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *LocalStorage) BasePath() string { return s.basePath }

func (s *LocalStorage) IsS3() bool { return false }

// S3Storage implements Storage for AWS S3
type S3Storage struct {
	bucket     string
	prefix     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	ctx        context.Context
}

// NewS3Storage creates a new S3 storage backend for a base of the form
// s3://bucket/prefix.
func NewS3Storage(ctx context.Context, base string) (*S3Storage, error) {
	if !IsS3URI(base) {
		return nil, fmt.Errorf("invalid S3 path: %s (must start with s3://)", base)
	}
	parts := strings.SplitN(strings.TrimPrefix(base, "s3://"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("invalid S3 path: %s (missing bucket name)", base)
	}
	prefix := ""
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Storage{
		bucket: parts[0],
		prefix: prefix,
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 10 * MB
			u.Concurrency = 3
		}),
		downloader: manager.NewDownloader(client),
		ctx:        ctx,
	}, nil
}

func (s *S3Storage) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Storage) ReadFile(name string) ([]byte, error) {
	key := s.key(name)
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.Download(s.ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Storage) Open(name string) (io.ReadCloser, error) {
	key := s.key(name)
	out, err := s.client.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

// Create streams writes into a multipart upload.
func (s *S3Storage) Create(name string) (io.WriteCloser, error) {
	key := s.key(name)
	pr, pw := io.Pipe()
	u := &s3Upload{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.uploader.Upload(s.ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			err = fmt.Errorf("failed to upload to s3://%s/%s: %w", s.bucket, key, err)
		}
		pr.CloseWithError(err)
		u.done <- err
	}()
	return u, nil
}

type s3Upload struct {
	pw   *io.PipeWriter
	done chan error
}

func (u *s3Upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

func (u *s3Upload) Close() error {
	u.pw.Close()
	return <-u.done
}

func (s *S3Storage) List(prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	var files []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(s.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			files = append(files, key)
		}
	}
	return files, nil
}

func (s *S3Storage) Exists(name string) (bool, error) {
	_, err := s.client.HeadObject(s.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) || strings.Contains(err.Error(), "404") {
		return false, nil
	}
	return false, err
}

func (s *S3Storage) BasePath() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3Storage) IsS3() bool { return true }

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/genforge/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// uploadConcurrency bounds parallel object uploads per project.
const uploadConcurrency = 4

// S3Config configures an S3Mirror.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3ConfigFrom maps the store section onto an S3Config.
func S3ConfigFrom(c config.StoreConfig) S3Config {
	return S3Config{
		Endpoint:  c.S3Endpoint,
		Region:    c.S3Region,
		AccessKey: c.S3AccessKey.Value(),
		SecretKey: c.S3SecretKey.Value(),
		Bucket:    c.S3Bucket,
		Prefix:    c.S3Prefix,
		UseSSL:    c.S3UseSSL,
	}
}

// S3Mirror uploads persisted project directories to an S3-compatible bucket.
type S3Mirror struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	logger   *zap.Logger
	initOnce sync.Once
	initErr  error
}

// NewS3Mirror validates cfg and creates the client. No request is made until
// the first upload.
func NewS3Mirror(cfg S3Config, logger *zap.Logger) (*S3Mirror, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Mirror{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		logger: logger,
	}, nil
}

func (m *S3Mirror) ensureBucket(ctx context.Context) error {
	m.initOnce.Do(func() {
		exists, err := m.client.BucketExists(ctx, m.bucket)
		if err != nil {
			m.initErr = err
			return
		}
		if exists {
			return
		}
		m.initErr = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
	})
	return m.initErr
}

// Upload copies every regular file under dir to <prefix>/<name>/<relative path>.
// Files are uploaded concurrently, at most uploadConcurrency at a time. All
// files are attempted; failures are joined.
func (m *S3Mirror) Upload(ctx context.Context, dir, name string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	var files []string
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", dir, walkErr)
	}

	var (
		mu       sync.Mutex
		errs     []error
		uploaded int
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(uploadConcurrency)
	for _, p := range files {
		eg.Go(func() error {
			err := m.put(egCtx, dir, name, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				uploaded++
			}
			return nil
		})
	}
	_ = eg.Wait()

	m.logger.Info("project mirrored",
		zap.String("bucket", m.bucket),
		zap.String("prefix", m.objectKey(name, "")),
		zap.Int("uploaded", uploaded),
		zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

func (m *S3Mirror) put(ctx context.Context, dir, name, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return err
	}
	key := m.objectKey(name, rel)
	opts := minio.PutObjectOptions{ContentType: contentType(p)}
	if _, err := m.client.FPutObject(ctx, m.bucket, key, p, opts); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (m *S3Mirror) objectKey(name, rel string) string {
	parts := make([]string, 0, 3)
	if m.prefix != "" {
		parts = append(parts, m.prefix)
	}
	parts = append(parts, name)
	if rel != "" {
		parts = append(parts, filepath.ToSlash(rel))
	}
	return path.Join(parts...)
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

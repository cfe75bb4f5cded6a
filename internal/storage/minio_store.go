package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"git.home.luguber.info/inful/pipewright/internal/config"
)

const (
	digestMetaKey   = "digest"
	amzMetaPrefix   = "x-amz-meta-"
	minioNoSuchKey  = "NoSuchKey"
	bundleMediaType = "application/gzip"
)

// MinIOStore keeps objects in an S3 compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the endpoint and creates the bucket if needed.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio store requires endpoint and bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	s, err := NewMinIOStoreWithClient(client, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return s, nil
}

func NewMinIOStoreWithClient(client *minio.Client, bucket string) (*MinIOStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
}

// Put spools r to a temp file to learn its size and digest, then uploads it.
func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, meta Metadata) (ObjectInfo, error) {
	if err := validKey(key); err != nil {
		return ObjectInfo{}, err
	}
	tmp, err := os.CreateTemp("", "pipewright-upload-*")
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("spool upload: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return ObjectInfo{}, fmt.Errorf("spool upload: %w", err)
	}

	digest := "sha256:" + hex.EncodeToString(h.Sum(nil))
	userMeta := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		userMeta[strings.ToLower(k)] = v
	}
	userMeta[digestMetaKey] = digest

	up, err := s.client.PutObject(ctx, s.bucket, key, tmp, size, minio.PutObjectOptions{
		ContentType:  bundleMediaType,
		UserMetadata: userMeta,
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("upload %s: %w", key, err)
	}
	created := up.LastModified
	if created.IsZero() {
		created = time.Now().UTC()
	}
	delete(userMeta, digestMetaKey)
	return ObjectInfo{Key: key, Size: size, Digest: digest, CreatedAt: created, Metadata: userMeta}, nil
}

func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, mapMinIOError(key, err)
	}
	return obj, info, nil
}

func (s *MinIOStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	st, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapMinIOError(key, err)
	}
	return toObjectInfo(st), nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	// RemoveObject succeeds for missing keys, so check first.
	if _, err := s.Stat(ctx, key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinIOError(key, err)
	}
	return nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		out = append(out, toObjectInfo(obj))
	}
	slices.SortFunc(out, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *MinIOStore) Close() error { return nil }

func toObjectInfo(st minio.ObjectInfo) ObjectInfo {
	info := ObjectInfo{Key: st.Key, Size: st.Size, CreatedAt: st.LastModified.UTC()}
	meta := Metadata{}
	for k, v := range st.UserMetadata {
		k = strings.TrimPrefix(strings.ToLower(k), amzMetaPrefix)
		if k == digestMetaKey {
			info.Digest = v
			continue
		}
		meta[k] = v
	}
	if len(meta) > 0 {
		info.Metadata = meta
	}
	return info
}

func mapMinIOError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == minioNoSuchKey {
		return ErrNotFound{Key: key}
	}
	return err
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// NewS3Store 构建以 S3 bucket 为后端的缓存实现，语义与磁盘实现一致：
// 对象存在即命中，Content-Type 保存在对象元数据里。启动时做一次列举探测，
// 以便凭证/桶名问题在启动阶段立即暴露而不是首个请求才失败。
func NewS3Store(ctx context.Context, bucket, keyPrefix string) (Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	if _, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &bucket,
		MaxKeys: aws.Int32(1),
	}); err != nil {
		return nil, fmt.Errorf("access s3 bucket %s: %w", bucket, err)
	}

	return &s3Store{
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
		client:    client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 4
			u.LeavePartsOnError = false
		}),
	}, nil
}

type s3Store struct {
	bucket    string
	keyPrefix string
	client    *s3.Client
	uploader  *manager.Uploader
}

func (s *s3Store) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	key, err := s.objectKey(locator)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:     locator,
		ContentType: obj.Metadata["content-type"],
	}
	if obj.ContentLength != nil {
		entry.SizeBytes = *obj.ContentLength
	}
	if obj.LastModified != nil {
		entry.ModTime = *obj.LastModified
	}

	return &ReadResult{
		Entry:  entry,
		Reader: obj.Body,
	}, nil
}

func (s *s3Store) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	key, err := s.objectKey(locator)
	if err != nil {
		return nil, err
	}

	// 先落本地临时文件再上传：uploader 需要可确定长度的输入，
	// 且失败时不会在桶里留下半写对象。
	spool, err := os.CreateTemp("", ".vault-s3-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	written, err := copyWithContext(ctx, spool, body)
	if err != nil {
		return nil, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	metadata := map[string]string{}
	if opts.ContentType != "" {
		metadata["content-type"] = opts.ContentType
	}

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(written),
		Metadata:      metadata,
	}); err != nil {
		return nil, fmt.Errorf("upload cache object: %w", err)
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}

	return &Entry{
		Locator:     locator,
		SizeBytes:   written,
		ContentType: opts.ContentType,
		ModTime:     modTime,
	}, nil
}

func (s *s3Store) Remove(ctx context.Context, locator Locator) error {
	key, err := s.objectKey(locator)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return err
}

func (s *s3Store) objectKey(locator Locator) (string, error) {
	prefix := strings.Trim(locator.Prefix, "/")
	if prefix == "" {
		return "", errors.New("cache prefix required")
	}

	rel := path.Clean("/" + locator.Path)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	parts := []string{prefix, rel}
	if s.keyPrefix != "" {
		parts = append([]string{s.keyPrefix}, parts...)
	}
	return strings.Join(parts, "/"), nil
}

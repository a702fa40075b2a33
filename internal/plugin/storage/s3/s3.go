// Package s3 implements storage.VaultBackend against an S3-compatible
// object store, fronted by a content-addressed local cache (§4.3): reads
// are served from registry/cache when it holds the object, and every write
// or remote read populates it, with the CacheIndexEntry
// table tracking size and last-access time for LRU eviction once the
// cache grows past its configured cap.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
	registrycache "github.com/chirino/vaulthalla/internal/registry/cache"
	"github.com/chirino/vaulthalla/internal/registry/store"
	vstorage "github.com/chirino/vaulthalla/internal/storage"
)

const cacheTTL = 30 * time.Minute

// Backend is a storage.VaultBackend backed by S3.
type Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	store         store.Store
	vaultID       uuid.UUID
	cache         registrycache.ContentCache
	cacheCapBytes int64
}

// Config is everything New needs to stand up one vault's S3 backend. The
// credentials come from the vault's decrypted model.APIKey, never from
// daemon-wide environment configuration — each vault can point at a
// different provider/account.
type Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // empty for AWS; set for MinIO/other S3-compatibles
	Bucket    string

	VaultID       uuid.UUID
	Store         store.Store
	Cache         registrycache.ContentCache
	CacheCapBytes int64
}

// New builds a Backend from static vault credentials.
func New(cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	usePathStyle := cfg.Endpoint != ""
	client := s3.New(s3.Options{
		Region:      cfg.Region,
		Credentials: creds,
		BaseEndpoint: func() *string {
			if cfg.Endpoint == "" {
				return nil
			}
			return awssdk.String(cfg.Endpoint)
		}(),
		UsePathStyle: usePathStyle,
		Retryer:      retry.NewStandard(func(o *retry.StandardOptions) { o.MaxAttempts = 1 }),
	})
	return &Backend{
		client:        client,
		bucket:        cfg.Bucket,
		keyPrefix:     cfg.VaultID.String() + "/",
		store:         cfg.Store,
		vaultID:       cfg.VaultID,
		cache:         cfg.Cache,
		cacheCapBytes: cfg.CacheCapBytes,
	}, nil
}

func (b *Backend) objectKey(key string) string {
	return b.keyPrefix + key
}

func (b *Backend) Put(ctx context.Context, key string, plaintext []byte) error {
	objKey := b.objectKey(key)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        awssdk.String(b.bucket),
		Key:           awssdk.String(objKey),
		Body:          bytes.NewReader(plaintext),
		ContentLength: awssdk.Int64(int64(len(plaintext))),
	})
	if err != nil {
		return b.classify(err)
	}
	b.warmCache(ctx, key, plaintext)
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.cache != nil && b.cache.Available() {
		if data, ok, err := b.cache.Get(ctx, key); err == nil && ok {
			b.touchCacheEntry(ctx, key, int64(len(data)))
			return data, nil
		}
	}

	objKey := b.objectKey(key)
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(objKey),
	})
	if err != nil {
		return nil, b.classify(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 backend: reading object body: %w", err)
	}
	b.warmCache(ctx, key, data)
	return data, nil
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	objKey := b.objectKey(key)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(objKey),
	})
	if err != nil {
		return b.classify(err)
	}
	if b.cache != nil {
		_ = b.cache.Remove(ctx, key)
	}
	if b.store != nil {
		_ = b.store.DeleteCacheIndexEntry(ctx, b.vaultID, key)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	source := b.bucket + "/" + b.objectKey(srcKey)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     awssdk.String(b.bucket),
		Key:        awssdk.String(b.objectKey(dstKey)),
		CopySource: awssdk.String(source),
	})
	if err != nil {
		return b.classify(err)
	}
	return nil
}

// Mkdir writes a zero-byte marker object so the prefix shows up in
// listings from tools that walk the bucket directly.
func (b *Backend) Mkdir(ctx context.Context, key string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(b.objectKey(key) + "/"),
		Body:   bytes.NewReader(nil),
	})
	return b.classify(err)
}

// FreeSpace has no meaning against an S3 bucket; capacity planning for S3
// vaults goes through Vault.QuotaBytes, which Engine checks before ever
// calling this.
func (b *Backend) FreeSpace(_ context.Context) (uint64, error) {
	return ^uint64(0), nil
}

// CacheSize sums the local content cache's bookkeeping rows for this vault.
func (b *Backend) CacheSize(ctx context.Context) (uint64, error) {
	if b.store == nil {
		return 0, nil
	}
	rows, err := b.store.ListCacheIndexEntries(ctx, b.vaultID)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, r := range rows {
		total += uint64(r.SizeBytes)
	}
	return total, nil
}

func (b *Backend) VaultSize(ctx context.Context) (uint64, error) {
	var total uint64
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awssdk.String(b.bucket),
			Prefix:            awssdk.String(b.keyPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, b.classify(err)
		}
		for _, obj := range resp.Contents {
			total += uint64(awssdk.ToInt64(obj.Size))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return total, nil
}

// List returns every object key under this vault's prefix, with the prefix
// stripped back off so callers see the same backend keys Put/Get use.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awssdk.String(b.bucket),
			Prefix:            awssdk.String(b.keyPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, b.classify(err)
		}
		for _, obj := range resp.Contents {
			key := awssdk.ToString(obj.Key)
			keys = append(keys, key[len(b.keyPrefix):])
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return keys, nil
}

// warmCache populates the content cache and CacheIndexEntry row for key,
// then evicts the least-recently-used entries if the cache is over cap.
func (b *Backend) warmCache(ctx context.Context, key string, data []byte) {
	if b.cache != nil && b.cache.Available() {
		if err := b.cache.Set(ctx, key, data, cacheTTL); err != nil {
			log.Warn("s3 backend: cache set failed", "key", key, "err", err)
		}
	}
	b.touchCacheEntry(ctx, key, int64(len(data)))
	b.evictOverCap(ctx)
}

func (b *Backend) touchCacheEntry(ctx context.Context, key string, size int64) {
	if b.store == nil {
		return
	}
	entry := &model.CacheIndexEntry{
		VaultID:      b.vaultID,
		Path:         key,
		BackingPath:  key,
		SizeBytes:    size,
		LastAccessed: time.Now(),
	}
	if existing, err := b.store.GetCacheIndexEntry(ctx, b.vaultID, key); err == nil {
		entry.ID = existing.ID
	}
	if err := b.store.UpsertCacheIndexEntry(ctx, entry); err != nil {
		log.Warn("s3 backend: cache index upsert failed", "key", key, "err", err)
	}
}

func (b *Backend) evictOverCap(ctx context.Context) {
	if b.store == nil || b.cacheCapBytes <= 0 {
		return
	}
	rows, err := b.store.ListCacheIndexEntries(ctx, b.vaultID)
	if err != nil {
		log.Warn("s3 backend: listing cache index for eviction failed", "err", err)
		return
	}
	var total int64
	for _, r := range rows {
		total += r.SizeBytes
	}
	for i := 0; total > b.cacheCapBytes && i < len(rows); i++ {
		victim := rows[i]
		if b.cache != nil {
			_ = b.cache.Remove(ctx, victim.Path)
		}
		if err := b.store.DeleteCacheIndexEntry(ctx, b.vaultID, victim.Path); err != nil {
			log.Warn("s3 backend: cache eviction delete failed", "path", victim.Path, "err", err)
			continue
		}
		total -= victim.SizeBytes
	}
}

// classify wraps credential/permission failures as storage.ErrAuthentication.
func (b *Backend) classify(err error) error {
	if err == nil {
		return nil
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && (re.HTTPStatusCode() == 401 || re.HTTPStatusCode() == 403) {
		return fmt.Errorf("s3 backend: %w: %w", vstorage.ErrAuthentication, err)
	}
	return err
}

var _ vstorage.VaultBackend = (*Backend)(nil)

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ocrforge.dev/apperr"
)

const (
	defaultGetTTL = time.Hour
	defaultPutTTL = 15 * time.Minute

	// Tag names per §4.1.
	tagDeleted   = "deleted"
	tagDeletedAt = "deleted_at"

	// ColdStorageAfterDays and ExpireAfterDays mirror R1/R2 so the lifecycle
	// reaper's scan fallback (for backends that don't evaluate Filter.Tag
	// rules natively) agrees with what DeclareLifecycle asks a native
	// backend to do.
	ColdStorageAfterDays = 7
	ExpireAfterDays      = 30
)

// Client is the concrete C1 adapter: encrypted object I/O, pre-signed URL
// minting, deletion tagging, and lifecycle policy declaration. It is built
// around the teacher's S3Client interface so every call below is a plain
// passthrough to either a real *s3.Client or a MockS3Client in tests.
type Client struct {
	s3     S3Client
	signer Presigner
	bucket string
	kmsKey string
}

// Config dials a real AWS S3 client from the region/bucket/KMS key named in
// SPEC_FULL §6's environment list.
type Config struct {
	Region string
	Bucket string
	KMSKey string
}

// New builds a Client backed by the real AWS SDK.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region), awsconfig.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &Client{
		s3:     client,
		signer: s3.NewPresignClient(client),
		bucket: cfg.Bucket,
		kmsKey: cfg.KMSKey,
	}, nil
}

// NewWithClient wraps an injected S3Client/Presigner pair, used in tests
// against MockS3Client/MockPresigner.
func NewWithClient(s3c S3Client, signer Presigner, bucket, kmsKey string) *Client {
	return &Client{s3: s3c, signer: signer, bucket: bucket, kmsKey: kmsKey}
}

// Key layout helpers per §4.1.

// UploadKey builds the object key for an original upload.
func UploadKey(ownerID string, uploadedAt time.Time, fileID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s/%s/%s", ownerID, uploadedAt.Format("2006-01"), fileID, filename)
}

// ResultKey builds the object key for OCR output.
func ResultKey(ownerID, taskID, ext string) string {
	return fmt.Sprintf("results/%s/%s/result.%s", ownerID, taskID, ext)
}

// VersionKey builds the object key for a promoted document version.
func VersionKey(taskID string, versionNumber int) string {
	return fmt.Sprintf("versions/%s/%d", taskID, versionNumber)
}

// PageImageKey builds the object key for a worker-produced page image.
// page is 1-indexed.
func PageImageKey(ownerID, taskID string, page int) string {
	return fmt.Sprintf("results/%s/%s/pages/%d.png", ownerID, taskID, page)
}

// Put writes bytes to key with server-side encryption. Without a KMS key
// hint, Put fails with EncryptionUnavailable (modeled as StorageError with
// reason "encryption_unavailable") rather than writing unencrypted.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, contentType string) (etag string, err error) {
	if c.kmsKey == "" {
		return "", apperr.New(apperr.StorageError, "encryption_unavailable")
	}
	out, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               &c.bucket,
		Key:                  &key,
		Body:                 body,
		ContentType:          &contentType,
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
		SSEKMSKeyId:          &c.kmsKey,
	})
	if err != nil {
		return "", classifyS3Err(err, "put")
	}
	if out.ETag != nil {
		etag = *out.ETag
	}
	return etag, nil
}

// Get streams an object's bytes.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return nil, classifyS3Err(err, "get")
	}
	return out.Body, nil
}

// ObjectMeta is the subset of S3 HEAD metadata callers need.
type ObjectMeta struct {
	SizeBytes   int64
	ContentType string
	Tags        map[string]string
}

// Head retrieves an object's metadata and current tag set.
func (c *Client) Head(ctx context.Context, key string) (ObjectMeta, error) {
	headOut, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return ObjectMeta{}, classifyS3Err(err, "head")
	}

	tags, err := c.readTags(ctx, key)
	if err != nil {
		return ObjectMeta{}, err
	}

	meta := ObjectMeta{Tags: tags}
	if headOut.ContentLength != nil {
		meta.SizeBytes = *headOut.ContentLength
	}
	if headOut.ContentType != nil {
		meta.ContentType = *headOut.ContentType
	}
	return meta, nil
}

// PresignGet mints a read-only URL, defaulting to a 1-hour TTL.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultGetTTL
	}
	req, err := c.signer.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key},
		s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classifyS3Err(err, "presign_get")
	}
	return req.URL, nil
}

// PresignPut mints a write URL, defaulting to a 15-minute TTL.
func (c *Client) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultPutTTL
	}
	req, err := c.signer.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: &c.bucket, Key: &key, ContentType: &contentType},
		s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classifyS3Err(err, "presign_put")
	}
	return req.URL, nil
}

// Tag merges the given tags onto the object's existing tag set,
// idempotently (§4.1: "tag is idempotent").
func (c *Client) Tag(ctx context.Context, key string, tags map[string]string) error {
	existing, err := c.readTags(ctx, key)
	if err != nil {
		return err
	}
	for k, v := range tags {
		existing[k] = v
	}
	return c.writeTags(ctx, key, existing)
}

// MarkDeleted adds deleted=true and deleted_at=now atomically (as a single
// tag-set write), per §4.1.
func (c *Client) MarkDeleted(ctx context.Context, key string, at time.Time) error {
	return c.Tag(ctx, key, map[string]string{
		tagDeleted:   "true",
		tagDeletedAt: at.UTC().Format(time.RFC3339),
	})
}

// Untag removes the named tags, used for recovery within the retention
// window (S7).
func (c *Client) Untag(ctx context.Context, key string, tagNames ...string) error {
	existing, err := c.readTags(ctx, key)
	if err != nil {
		return err
	}
	for _, name := range tagNames {
		delete(existing, name)
	}
	if len(existing) == 0 {
		_, err := c.s3.DeleteObjectTagging(ctx, &s3.DeleteObjectTaggingInput{Bucket: &c.bucket, Key: &key})
		if err != nil {
			return classifyS3Err(err, "untag")
		}
		return nil
	}
	return c.writeTags(ctx, key, existing)
}

func (c *Client) readTags(ctx context.Context, key string) (map[string]string, error) {
	out, err := c.s3.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return nil, classifyS3Err(err, "get_tagging")
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		if t.Key != nil && t.Value != nil {
			tags[*t.Key] = *t.Value
		}
	}
	return tags, nil
}

func (c *Client) writeTags(ctx context.Context, key string, tags map[string]string) error {
	tagSet := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		k, v := k, v
		tagSet = append(tagSet, types.Tag{Key: &k, Value: &v})
	}
	_, err := c.s3.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  &c.bucket,
		Key:     &key,
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return classifyS3Err(err, "put_tagging")
	}
	return nil
}

// ListKeys enumerates every key under prefix, paging through
// ListObjectsV2's continuation token. Used by the lifecycle reaper's scan
// fallback to find deleted=true-tagged keys on backends that don't
// evaluate Filter.Tag rules natively.
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: &c.bucket, Prefix: &prefix, ContinuationToken: token,
		})
		if err != nil {
			return nil, classifyS3Err(err, "list_objects")
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// Delete removes an object outright, used by the lifecycle reaper's scan
// fallback to apply R1's final expiry itself.
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &c.bucket, Key: &key}); err != nil {
		return classifyS3Err(err, "delete_object")
	}
	return nil
}

// DeclareLifecycle installs the R1/R2/R3 rules from §4.1 at startup.
func (c *Client) DeclareLifecycle(ctx context.Context) error {
	deletedFilter := types.LifecycleRuleFilter{
		Tag: &types.Tag{Key: strPtr(tagDeleted), Value: strPtr("true")},
	}
	_, err := c.s3.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: &c.bucket,
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{
				{
					ID:         strPtr("R1-expire-deleted"),
					Status:     types.ExpirationStatusEnabled,
					Filter:     &deletedFilter,
					Expiration: &types.LifecycleExpiration{Days: int32Ptr(ExpireAfterDays)},
				},
				{
					ID:     strPtr("R2-cold-storage-deleted"),
					Status: types.ExpirationStatusEnabled,
					Filter: &deletedFilter,
					Transitions: []types.Transition{
						{Days: int32Ptr(ColdStorageAfterDays), StorageClass: types.TransitionStorageClassGlacier},
					},
				},
				{
					ID:     strPtr("R3-abort-incomplete-multipart"),
					Status: types.ExpirationStatusEnabled,
					Filter: &types.LifecycleRuleFilter{Prefix: strPtr("")},
					AbortIncompleteMultipartUpload: &types.AbortIncompleteMultipartUpload{
						DaysAfterInitiation: int32Ptr(7),
					},
				},
			},
		},
	})
	if err != nil {
		return classifyS3Err(err, "declare_lifecycle")
	}
	return nil
}

func strPtr(s string) *string { return &s }
func int32Ptr(i int32) *int32 { return &i }

// classifyS3Err maps an AWS SDK error onto the apperr kinds named in §4.1:
// NotFound for missing keys/buckets, StorageError for everything else
// (the SDK client has already retried transient failures by then).
func classifyS3Err(err error, op string) error {
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nsb) {
		return apperr.Wrap(apperr.NotFound, op, err)
	}
	return apperr.Wrap(apperr.StorageError, op, err)
}

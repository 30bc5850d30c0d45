package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MockS3Client is a mock implementation of S3Client for testing
type MockS3Client struct {
	// Objects stores mock S3 objects with their content and metadata
	Objects map[string]*MockS3Object
	// Buckets stores the list of buckets
	Buckets map[string]bool
	// Error to return from operations
	Err error
	// Track function calls
	HeadBucketCalled    bool
	PutObjectCalled     bool
	CreateBucketCalled  bool
	ListObjectsV2Called bool
	GetObjectCalled     bool
	HeadObjectCalled    bool
	LifecycleDeclared   bool
	DeletedKeys         []string
	// Store last call parameters
	LastBucket    string
	LastObjectKey string
	LastMetadata  map[string]string
}

// MockS3Object represents a mock S3 object with content and metadata
type MockS3Object struct {
	Key      string
	Content  string
	Metadata map[string]string
	Size     int64
	Tags     map[string]string
}

// NewMockS3Client creates a new mock S3 client
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		Objects: make(map[string]*MockS3Object),
		Buckets: make(map[string]bool),
	}
}

// HeadBucket mocks checking bucket existence
func (m *MockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.HeadBucketCalled = true
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if params.Bucket != nil && m.Buckets[*params.Bucket] {
		return &s3.HeadBucketOutput{}, nil
	}

	return nil, &types.NoSuchBucket{}
}

// PutObject mocks uploading an object
func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.PutObjectCalled = true
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}
	if params.Key != nil {
		m.LastObjectKey = *params.Key
	}
	if params.Metadata != nil {
		m.LastMetadata = params.Metadata
	}

	if m.Err != nil {
		return nil, m.Err
	}

	// Read content from body if provided
	content := ""
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err == nil {
			content = string(data)
		}
	}

	// Store the object
	if params.Key != nil {
		m.Objects[*params.Key] = &MockS3Object{
			Key:      *params.Key,
			Content:  content,
			Metadata: params.Metadata,
			Size:     int64(len(content)),
		}
	}

	return &s3.PutObjectOutput{}, nil
}

// CreateBucket mocks creating a bucket
func (m *MockS3Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.CreateBucketCalled = true
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if params.Bucket != nil {
		m.Buckets[*params.Bucket] = true
	}

	return &s3.CreateBucketOutput{}, nil
}

// ListObjectsV2 mocks listing objects
func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.ListObjectsV2Called = true
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}

	if m.Err != nil {
		return nil, m.Err
	}

	// Filter objects by prefix if provided
	var contents []types.Object
	prefix := ""
	if params.Prefix != nil {
		prefix = *params.Prefix
	}

	for key, obj := range m.Objects {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			contents = append(contents, types.Object{
				Key:  aws.String(obj.Key),
				Size: aws.Int64(obj.Size),
			})
		}
	}

	return &s3.ListObjectsV2Output{
		Contents: contents,
	}, nil
}

// GetObject mocks retrieving an object
func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.GetObjectCalled = true
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}
	if params.Key != nil {
		m.LastObjectKey = *params.Key
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if params.Key != nil {
		if obj, exists := m.Objects[*params.Key]; exists {
			return &s3.GetObjectOutput{
				Body:     io.NopCloser(strings.NewReader(obj.Content)),
				Metadata: obj.Metadata,
			}, nil
		}
		return nil, &types.NoSuchKey{}
	}

	return nil, &types.NoSuchKey{}
}

// HeadObject mocks retrieving object metadata
func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.HeadObjectCalled = true
	if params.Bucket != nil {
		m.LastBucket = *params.Bucket
	}
	if params.Key != nil {
		m.LastObjectKey = *params.Key
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if params.Key != nil {
		if obj, exists := m.Objects[*params.Key]; exists {
			return &s3.HeadObjectOutput{
				Metadata:      obj.Metadata,
				ContentLength: aws.Int64(obj.Size),
			}, nil
		}
		return nil, &types.NoSuchKey{}
	}

	return nil, &types.NoSuchKey{}
}

// PutObjectTagging mocks replacing an object's tag set, as S3 does.
func (m *MockS3Client) PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if params.Key == nil {
		return nil, &types.NoSuchKey{}
	}
	obj, exists := m.Objects[*params.Key]
	if !exists {
		return nil, &types.NoSuchKey{}
	}
	obj.Tags = make(map[string]string)
	if params.Tagging != nil {
		for _, tag := range params.Tagging.TagSet {
			if tag.Key != nil && tag.Value != nil {
				obj.Tags[*tag.Key] = *tag.Value
			}
		}
	}
	return &s3.PutObjectTaggingOutput{}, nil
}

// GetObjectTagging mocks reading an object's tag set.
func (m *MockS3Client) GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if params.Key == nil {
		return nil, &types.NoSuchKey{}
	}
	obj, exists := m.Objects[*params.Key]
	if !exists {
		return nil, &types.NoSuchKey{}
	}
	var tagSet []types.Tag
	for k, v := range obj.Tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return &s3.GetObjectTaggingOutput{TagSet: tagSet}, nil
}

// DeleteObjectTagging mocks clearing an object's tag set.
func (m *MockS3Client) DeleteObjectTagging(ctx context.Context, params *s3.DeleteObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectTaggingOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if params.Key == nil {
		return nil, &types.NoSuchKey{}
	}
	if obj, exists := m.Objects[*params.Key]; exists {
		obj.Tags = nil
	}
	return &s3.DeleteObjectTaggingOutput{}, nil
}

// PutBucketLifecycleConfiguration mocks declaring lifecycle rules; the mock
// only records that the call happened.
func (m *MockS3Client) PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	m.LifecycleDeclared = true
	if m.Err != nil {
		return nil, m.Err
	}
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

// DeleteObject mocks removing an object.
func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if params.Key != nil {
		delete(m.Objects, *params.Key)
		m.DeletedKeys = append(m.DeletedKeys, *params.Key)
	}
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectVersions mocks listing object versions; the in-memory mock has
// no versioning concept and always returns an empty listing.
func (m *MockS3Client) ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &s3.ListObjectVersionsOutput{}, nil
}

// MockPresigner is a fake Presigner that returns deterministic, inspectable
// URLs carrying the requested expiry instead of signing real requests.
type MockPresigner struct {
	BaseURL string
	Err     error
}

func (m *MockPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("%s/%s?X-Amz-Expires=%d", m.BaseURL, aws.ToString(params.Key), int(opts.Expires.Seconds())),
		Method: http.MethodGet,
	}, nil
}

func (m *MockPresigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("%s/%s?X-Amz-Expires=%d", m.BaseURL, aws.ToString(params.Key), int(opts.Expires.Seconds())),
		Method: http.MethodPut,
	}, nil
}

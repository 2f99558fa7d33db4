package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore is the content-addressed blob gateway backing artifacts, parsed
// documents and diffs. All keys are deterministic functions of their owning
// entity, never random, so re-uploading the same content is idempotent.
type ObjectStore struct {
	client S3Client
	bucket string
}

// NewObjectStore wraps an existing S3Client (real or mock) bound to bucket.
func NewObjectStore(client S3Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// sharedHTTPClient reuses one transport across every request issued by the object
// store client, avoiding a new TCP/TLS handshake per call.
var sharedHTTPClient = &http.Client{Timeout: 60 * time.Second}

// NewMinIOObjectStore builds an ObjectStore against a MinIO-compatible endpoint
// using static credentials and path-style addressing, the same configuration shape
// used throughout the pack's S3-compatible helpers.
func NewMinIOObjectStore(ctx context.Context, endpoint, accessKey, secretKey, region, bucket string) (*ObjectStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.HTTPClient = sharedHTTPClient
	})

	return NewObjectStore(client, bucket), nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (o *ObjectStore) EnsureBucket(ctx context.Context) error {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)})
	if err == nil {
		return nil
	}
	_, err = o.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(o.bucket)})
	if err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", o.bucket, err)
	}
	return nil
}

// Put uploads body under key with contentType, returning the blob URI
// (s3://bucket/key) stored on the owning row (Artifact.BlobURI, DocumentVersion.ParsedURI, …).
func (o *ObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	return BlobURI(o.bucket, key), nil
}

// PutStream uploads body under key via the multipart manager, used instead of Put
// for raw crawl payloads whose size isn't known to fit comfortably in a single
// PutObject call. A client without the multipart operations (such as the mock)
// receives the whole body in a single PutObject call instead.
func (o *ObjectStore) PutStream(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	api, ok := o.client.(manager.UploadAPIClient)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("storage: read stream %s: %w", key, err)
		}
		return o.Put(ctx, key, data, contentType)
	}
	uploader := manager.NewUploader(api)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put stream %s: %w", key, err)
	}
	return BlobURI(o.bucket, key), nil
}

// ListByPrefix lists every object under prefix, paging through ListObjectsV2 until
// the result is no longer truncated.
func (o *ObjectStore) ListByPrefix(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	var token *string
	for {
		out, err := o.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(o.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: list objects under %s: %w", prefix, err)
		}
		objects = append(objects, out.Contents...)
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return objects, nil
}

// Get downloads the object at key and returns its full body.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether key is present. Any HeadObject error, not only a
// missing key, is reported as false with a nil error.
func (o *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// BlobURI formats the s3://bucket/key URI stored alongside an object's owning row.
func BlobURI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// RawKey builds the raw/{source_id}/{yyyy}/{mm}/{dd}/{sha256}.bin key for a fetched
// artifact, partitioned by fetch day so a bucket listing stays browsable.
func RawKey(sourceID int64, fetchedAt time.Time, sha256Hex string) string {
	return fmt.Sprintf("raw/%d/%04d/%02d/%02d/%s.bin",
		sourceID, fetchedAt.Year(), fetchedAt.Month(), fetchedAt.Day(), sha256Hex)
}

// RawMetaKey builds the raw_meta/{sha256}.json key for an artifact's fetch metadata
// (status code, headers, content type), stored alongside the raw bytes.
func RawMetaKey(sha256Hex string) string {
	return fmt.Sprintf("raw_meta/%s.json", sha256Hex)
}

// ParsedKey builds the parsed/{doc_id}/{version_id}.json key for a parsed document.
func ParsedKey(docID, versionID int64) string {
	return fmt.Sprintf("parsed/%d/%d.json", docID, versionID)
}

// DiffKey builds the diffs/{doc_id}/{version_id}.json key for an RFC 6902 JSON
// Patch (an array of operations) relative to the previous version.
func DiffKey(docID, versionID int64) string {
	return fmt.Sprintf("diffs/%d/%d.json", docID, versionID)
}

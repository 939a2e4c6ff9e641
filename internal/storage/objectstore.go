package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tilepipe/internal/services"
)

// ObjectStoreOptions configures an S3-compatible endpoint.
type ObjectStoreOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// NewObjectStoreClient dials an S3-compatible endpoint.
func NewObjectStoreClient(opts ObjectStoreOptions) (*minio.Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "object store", "endpoint is required", nil)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "object store", "create client", err)
	}
	return client, nil
}

// ObjectStore keeps a container as a bucket. Locations take the form
// s3://<bucket>/<name>.
type ObjectStore struct {
	client    *minio.Client
	container string
	bucket    string
	region    string
}

// NewObjectStore binds container to the bucket bucketPrefix+container,
// creating the bucket when it does not exist.
func NewObjectStore(ctx context.Context, client *minio.Client, bucketPrefix, container, region string) (*ObjectStore, error) {
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, container, "object store", "client is required", nil)
	}
	bucket := strings.ToLower(bucketPrefix + container)
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, container, "check bucket", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			// Another worker may have created it between the check and here.
			if again, checkErr := client.BucketExists(ctx, bucket); checkErr != nil || !again {
				return nil, services.Wrap(services.ErrStore, container, "create bucket", bucket, err)
			}
		}
	}
	return &ObjectStore{client: client, container: container, bucket: bucket, region: region}, nil
}

func (o *ObjectStore) Container() string { return o.container }

// Bucket returns the backing bucket name.
func (o *ObjectStore) Bucket() string { return o.bucket }

func (o *ObjectStore) Store(ctx context.Context, name, localPath string) (string, error) {
	if err := validateName(o.container, name); err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := o.client.FPutObject(ctx, o.bucket, name, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", services.Wrap(services.ErrStore, o.container, "store artifact", name, err)
	}
	return objectURL(o.bucket, name), nil
}

func (o *ObjectStore) GetIfNewer(ctx context.Context, name, outputPath string) (bool, error) {
	if err := validateName(o.container, name); err != nil {
		return false, err
	}
	info, err := o.client.StatObject(ctx, o.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return false, mapObjectError(o.container, "stat artifact", name, err)
	}
	if !isStale(outputPath, info.LastModified) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return false, services.Wrap(services.ErrStore, o.container, "prepare output", outputPath, err)
	}
	if err := o.client.FGetObject(ctx, o.bucket, name, outputPath, minio.GetObjectOptions{}); err != nil {
		return false, mapObjectError(o.container, "get artifact", name, err)
	}
	if err := os.Chtimes(outputPath, info.LastModified, info.LastModified); err != nil {
		return false, services.Wrap(services.ErrStore, o.container, "set modification time", outputPath, err)
	}
	return true, nil
}

func (o *ObjectStore) List(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, services.Wrap(services.ErrStore, o.container, "list artifacts", o.bucket, obj.Err)
		}
		names = append(names, obj.Key)
	}
	sort.Strings(names)
	return names, nil
}

func objectURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// parseObjectURL splits s3://bucket/key.
func parseObjectURL(location string) (string, string, bool) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", false
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func mapObjectError(container, op, name string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return services.Wrap(services.ErrNotFound, container, op, name, err)
	}
	return services.Wrap(services.ErrStore, container, op, name, err)
}

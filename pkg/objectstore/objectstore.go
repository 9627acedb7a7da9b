// Package objectstore is the Updater's remote collaborator (spec.md §4.2):
// an S3-compatible bucket listing dependency-cache archives and serving
// their contents for download.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// Store is a thin wrapper over an S3 client, scoped to a single bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store for bucket, using static credentials when accessKey
// is non-empty (self-hosted/MinIO deployments) or the default AWS
// credential chain otherwise.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	if accessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: bucket}, nil
}

// List returns every object in the bucket as a Manifest, the remote
// counterpart to the persisted s3_structure.json mirror (spec.md §4.2
// step 2).
func (s *Store) List(ctx context.Context) (types.Manifest, error) {
	manifest := make(types.Manifest)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			lastModified := ""
			if obj.LastModified != nil {
				lastModified = obj.LastModified.UTC().Format("2006-01-02T15:04:05.000Z")
			}
			manifest[key] = types.ManifestEntry{
				Key:          key,
				LastModified: lastModified,
				ETag:         aws.ToString(obj.ETag),
				Size:         aws.ToInt64(obj.Size),
			}
		}
	}

	return manifest, nil
}

// Download streams the object at key into w, using the multipart
// downloader so large SDK/platform archives aren't held fully in memory
// (spec.md §4.2 step 5).
func (s *Store) Download(ctx context.Context, key string, w io.WriterAt) error {
	downloader := manager.NewDownloader(s.client)
	_, err := downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

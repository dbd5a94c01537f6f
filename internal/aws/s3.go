package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

// DefaultUploadConcurrency bounds parallel uploads in UploadAll.
const DefaultUploadConcurrency = 4

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Stager implements cluster.Stager by uploading scripts to an S3 bucket.
// It holds no mutable state and is safe for concurrent use.
type S3Stager struct {
	client      objectPutter
	bucket      string
	concurrency int
	logger      *slog.Logger
}

// NewS3Stager creates a stager that writes into bucket. SDK retries are
// disabled: an upload is attempted once and failures go to the caller.
func NewS3Stager(cfg aws.Config, bucket string, logger *slog.Logger) *S3Stager {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
	})
	return newS3Stager(client, bucket, logger)
}

func newS3Stager(client objectPutter, bucket string, logger *slog.Logger) *S3Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Stager{
		client:      client,
		bucket:      bucket,
		concurrency: DefaultUploadConcurrency,
		logger:      logger,
	}
}

// Upload copies localPath to <keyPrefix>/<basename> and returns the artifact.
// The URI is only returned once PutObject has reported success.
func (s *S3Stager) Upload(ctx context.Context, localPath, keyPrefix string) (cluster.Artifact, error) {
	prefix := strings.Trim(keyPrefix, "/")
	if prefix == "" {
		return cluster.Artifact{}, &cluster.TransferError{LocalPath: localPath, Err: errors.New("empty key prefix")}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return cluster.Artifact{}, &cluster.TransferError{LocalPath: localPath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return cluster.Artifact{}, &cluster.TransferError{LocalPath: localPath, Err: err}
	}
	if !info.Mode().IsRegular() {
		return cluster.Artifact{}, &cluster.TransferError{LocalPath: localPath, Err: fmt.Errorf("%s is not a regular file", localPath)}
	}

	key := path.Join(prefix, filepath.Base(localPath))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return cluster.Artifact{}, &cluster.TransferError{
			LocalPath: localPath,
			Err:       fmt.Errorf("uploading file to s3://%s/%s: %w", s.bucket, key, err),
		}
	}

	uri := ObjectURI(s.bucket, key)
	s.logger.Info("uploaded artifact",
		"path", localPath,
		"uri", uri,
		"size", humanize.Bytes(uint64(info.Size())),
	)

	return cluster.Artifact{
		LocalPath: localPath,
		Key:       key,
		URI:       uri,
		Size:      info.Size(),
	}, nil
}

// UploadAll uploads every path concurrently and returns the artifacts in
// input order. The first failure cancels the remaining uploads.
func (s *S3Stager) UploadAll(ctx context.Context, localPaths []string, keyPrefix string) ([]cluster.Artifact, error) {
	artifacts := make([]cluster.Artifact, len(localPaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range localPaths {
		g.Go(func() error {
			a, err := s.Upload(gctx, p, keyPrefix)
			if err != nil {
				return err
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Package s3 implements store.Directory on top of Amazon S3.
//
// Segment files are immutable once written, which matches the S3 object
// model: outputs stream through a multipart upload, inputs use ranged
// GETs. Reads can be rate limited to keep merge traffic from starving
// foreground queries.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/time/rate"

	"github.com/RKSPD/lucene-jvector/store"
)

// Directory implements store.Directory for an S3 bucket prefix.
type Directory struct {
	client  *s3.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter // nil means unlimited
}

// Option configures a Directory.
type Option func(*Directory)

// WithRequestLimit caps ranged GET requests to rps per second with the
// given burst.
func WithRequestLimit(rps float64, burst int) Option {
	return func(d *Directory) {
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewDirectory creates a Directory using an existing S3 client.
// prefix is prepended to all object keys (e.g. "indexes/my-index/").
func NewDirectory(client *s3.Client, bucket, prefix string, opts ...Option) *Directory {
	d := &Directory{client: client, bucket: bucket, prefix: prefix}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDefaultDirectory creates a Directory with a client built from the
// default AWS configuration chain (environment, shared config, IMDS).
func NewDefaultDirectory(ctx context.Context, bucket, prefix string, opts ...Option) (*Directory, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDirectory(s3.NewFromConfig(cfg), bucket, prefix, opts...), nil
}

func (d *Directory) key(name string) string {
	return path.Join(d.prefix, name)
}

// CreateOutput starts a streaming multipart upload for the named file.
// The upload completes when the Output is closed.
func (d *Directory) CreateOutput(name string) (store.Output, error) {
	pr, pw := io.Pipe()
	out := &s3Output{pw: pw, done: make(chan error, 1)}

	uploader := manager.NewUploader(d.client)
	go func() {
		_, err := uploader.Upload(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(d.key(name)),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		out.done <- err
	}()

	return out, nil
}

// OpenInput opens the named object for ranged reads.
func (d *Directory) OpenInput(name string) (store.Input, error) {
	key := d.key(name)

	head, err := d.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return &s3Input{
		client:  d.client,
		bucket:  d.bucket,
		key:     key,
		size:    aws.ToInt64(head.ContentLength),
		limiter: d.limiter,
	}, nil
}

// DeleteFile removes the named object.
func (d *Directory) DeleteFile(name string) error {
	_, err := d.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	return err
}

// ListAll returns the names of all objects under the prefix.
func (d *Directory) ListAll() ([]string, error) {
	var names []string
	p := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(context.Background())
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), d.prefix)
			names = append(names, strings.TrimPrefix(name, "/"))
		}
	}
	return names, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

type s3Output struct {
	pw   *io.PipeWriter
	done chan error
}

func (o *s3Output) Write(p []byte) (int, error) { return o.pw.Write(p) }

func (o *s3Output) Close() error {
	if err := o.pw.Close(); err != nil {
		return err
	}
	return <-o.done
}

type s3Input struct {
	client  *s3.Client
	bucket  string
	key     string
	size    int64
	limiter *rate.Limiter
}

func (in *s3Input) ReadAt(p []byte, off int64) (int, error) {
	if off >= in.size {
		return 0, io.EOF
	}
	if in.limiter != nil {
		if err := in.limiter.Wait(context.Background()); err != nil {
			return 0, err
		}
	}

	end := off + int64(len(p)) - 1
	if end >= in.size {
		end = in.size - 1
	}
	out, err := in.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(in.bucket),
		Key:    aws.String(in.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (in *s3Input) Close() error { return nil }

func (in *s3Input) Size() int64 { return in.size }

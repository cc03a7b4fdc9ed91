// Package blob opens the byte streams fed to the bulk loader: a local file,
// standard input, or objects in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrInvalidSource = errors.New("invalid source")

type Kind int

const (
	KindFile Kind = iota
	KindStdin
	KindS3
)

// Source is a parsed upload location. For S3 sources a Key ending in "/"
// (or empty) names every object under that prefix.
type Source struct {
	Kind   Kind
	Path   string
	Bucket string
	Key    string
}

func (s Source) String() string {
	switch s.Kind {
	case KindStdin:
		return "-"
	case KindS3:
		return "s3://" + s.Bucket + "/" + s.Key
	}
	return s.Path
}

func (s Source) IsPrefix() bool {
	return s.Kind == KindS3 && (s.Key == "" || strings.HasSuffix(s.Key, "/"))
}

// ParseSource accepts a filesystem path, "-" for standard input, or
// s3://bucket/key.
func ParseSource(raw string) (Source, error) {
	switch {
	case raw == "":
		return Source{}, fmt.Errorf("%w: empty", ErrInvalidSource)
	case raw == "-":
		return Source{Kind: KindStdin}, nil
	case strings.HasPrefix(raw, "s3://"):
		bucket, key, _ := strings.Cut(strings.TrimPrefix(raw, "s3://"), "/")
		if bucket == "" {
			return Source{}, fmt.Errorf("%w: %s has no bucket", ErrInvalidSource, raw)
		}
		return Source{Kind: KindS3, Bucket: bucket, Key: key}, nil
	}
	return Source{Kind: KindFile, Path: raw}, nil
}

// S3Config mirrors the AWS_REGION, S3_ENDPOINT and S3_PATH_STYLE settings.
// Credentials come from the default AWS chain.
type S3Config struct {
	Region    string
	Endpoint  string
	PathStyle bool
	// HTTPClient overrides the transport; nil uses the SDK default.
	HTTPClient s3.HTTPClient
}

// Opener resolves sources to readers. The S3 client is built on first use
// so file and stdin uploads never touch AWS configuration.
type Opener struct {
	cfg   S3Config
	stdin io.Reader

	once   sync.Once
	client *s3.Client
	err    error
}

func NewOpener(cfg S3Config) *Opener {
	return &Opener{cfg: cfg, stdin: os.Stdin}
}

// WithStdin replaces the reader used for "-".
func (o *Opener) WithStdin(r io.Reader) *Opener {
	o.stdin = r
	return o
}

// Open returns the contents of src. A prefix source yields its objects
// concatenated in key order.
func (o *Opener) Open(ctx context.Context, src Source) (io.ReadCloser, error) {
	switch src.Kind {
	case KindStdin:
		return io.NopCloser(o.stdin), nil
	case KindFile:
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", src.Path, err)
		}
		return f, nil
	case KindS3:
		client, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		if src.IsPrefix() {
			keys, err := listKeys(ctx, client, src.Bucket, src.Key)
			if err != nil {
				return nil, err
			}
			return &objectChain{ctx: ctx, client: client, bucket: src.Bucket, keys: keys}, nil
		}
		return getObject(ctx, client, src.Bucket, src.Key)
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidSource, src.Kind)
}

func (o *Opener) s3Client(ctx context.Context) (*s3.Client, error) {
	o.once.Do(func() {
		var opts []func(*config.LoadOptions) error
		if o.cfg.Region != "" {
			opts = append(opts, config.WithRegion(o.cfg.Region))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			o.err = fmt.Errorf("load aws config: %w", err)
			return
		}
		o.client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			so.UsePathStyle = o.cfg.PathStyle
			if o.cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(o.cfg.Endpoint)
			}
			if o.cfg.HTTPClient != nil {
				so.HTTPClient = o.cfg.HTTPClient
			}
		})
	})
	return o.client, o.err
}

func getObject(ctx context.Context, client *s3.Client, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func listKeys(ctx context.Context, client *s3.Client, bucket, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

// objectChain reads each object in turn, opening the next one only when
// the previous is exhausted. Objects are newline separated so the last line
// of one never runs into the first line of the next.
type objectChain struct {
	ctx          context.Context
	client       *s3.Client
	bucket       string
	keys         []string
	current      io.ReadCloser
	needsNewline bool
}

func (c *objectChain) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.current == nil {
			if len(c.keys) == 0 {
				return 0, io.EOF
			}
			if c.needsNewline {
				c.needsNewline = false
				p[0] = '\n'
				return 1, nil
			}
			body, err := getObject(c.ctx, c.client, c.bucket, c.keys[0])
			if err != nil {
				return 0, err
			}
			c.keys = c.keys[1:]
			c.current = body
		}
		n, err := c.current.Read(p)
		if n > 0 {
			c.needsNewline = p[n-1] != '\n'
		}
		if errors.Is(err, io.EOF) {
			_ = c.current.Close()
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *objectChain) Close() error {
	if c.current != nil {
		return c.current.Close()
	}
	return nil
}

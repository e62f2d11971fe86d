// Package archive keeps the final record of closed distribution trees.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Config struct {
	Logger *slog.Logger
	Client PutObjectAPI
	Bucket string
	Prefix string
	Clock  clockwork.Clock
}

func (cfg *S3Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// S3Archiver writes each tree to <prefix>/trees/<address>/<unix seconds>.bin.
type S3Archiver struct {
	log *slog.Logger
	cfg S3Config
}

func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &S3Archiver{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// Key returns the object key for a tree archived at unix time ts.
func (a *S3Archiver) Key(address solana.PublicKey, ts int64) string {
	return path.Join(a.cfg.Prefix, "trees", address.String(), strconv.FormatInt(ts, 10)+".bin")
}

func (a *S3Archiver) Archive(ctx context.Context, address solana.PublicKey, data []byte) error {
	key := a.Key(address, a.cfg.Clock.Now().Unix())
	_, err := a.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"tree": address.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	a.log.Info("archive: tree archived", "tree", address, "bucket", a.cfg.Bucket, "key", key, "bytes", len(data))
	return nil
}

package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	dispatchtesting "github.com/malbeclabs/dispatch/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.PutObjectFunc(ctx, params, optFns...)
}

func TestDispatch_Archive_S3Archiver(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)

	t.Run("returns error when config is incomplete", func(t *testing.T) {
		t.Parallel()

		_, err := NewS3Archiver(S3Config{Logger: dispatchtesting.NewLogger(), Client: &mockS3{}})
		require.ErrorContains(t, err, "bucket is required")
		_, err = NewS3Archiver(S3Config{Logger: dispatchtesting.NewLogger(), Bucket: "b"})
		require.ErrorContains(t, err, "s3 client is required")
	})

	t.Run("writes the tree under its address", func(t *testing.T) {
		t.Parallel()

		addr := solana.NewWallet().PublicKey()
		var got *s3.PutObjectInput
		var body []byte
		a, err := NewS3Archiver(S3Config{
			Logger: dispatchtesting.NewLogger(),
			Client: &mockS3{PutObjectFunc: func(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
				got = params
				var err error
				body, err = io.ReadAll(params.Body)
				return &s3.PutObjectOutput{}, err
			}},
			Bucket: "dispatch-archive",
			Prefix: "devnet",
			Clock:  clockwork.NewFakeClockAt(now),
		})
		require.NoError(t, err)

		require.NoError(t, a.Archive(t.Context(), addr, []byte{1, 2, 3}))
		require.Equal(t, "dispatch-archive", aws.ToString(got.Bucket))
		require.Equal(t, "devnet/trees/"+addr.String()+"/1700000000.bin", aws.ToString(got.Key))
		require.Equal(t, int64(3), aws.ToInt64(got.ContentLength))
		require.Equal(t, addr.String(), got.Metadata["tree"])
		require.Equal(t, []byte{1, 2, 3}, body)
	})

	t.Run("wraps client errors", func(t *testing.T) {
		t.Parallel()

		a, err := NewS3Archiver(S3Config{
			Logger: dispatchtesting.NewLogger(),
			Client: &mockS3{PutObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
				return nil, errors.New("AccessDenied")
			}},
			Bucket: "dispatch-archive",
		})
		require.NoError(t, err)
		err = a.Archive(t.Context(), solana.NewWallet().PublicKey(), nil)
		require.ErrorContains(t, err, "AccessDenied")
	})
}

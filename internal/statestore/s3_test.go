package statestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	getOut    *s3.GetObjectOutput
	getErr    error
	putErr    error
	headErr   error
	createErr error

	lastGet    *s3.GetObjectInput
	lastPut    *s3.PutObjectInput
	lastPutted []byte
	creates    int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastGet = in
	return f.getOut, f.getErr
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.lastPut = in
	if in.Body != nil {
		f.lastPutted, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) CreateBucket(_ context.Context, _ *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.creates++
	return &s3.CreateBucketOutput{}, f.createErr
}

func TestS3Get_ReturnsObjectBytes(t *testing.T) {
	fake := &fakeS3{getOut: &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader([]byte(`{"user_id":"alice"}`))),
	}}
	store, err := newS3Store(fake, "state-bucket")
	require.NoError(t, err)

	data, ok, err := store.Get(context.Background(), "conversations/20260830/alice_state")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"user_id":"alice"}`, string(data))
	require.Equal(t, "state-bucket", *fake.lastGet.Bucket)
	require.Equal(t, "conversations/20260830/alice_state", *fake.lastGet.Key)
}

func TestS3Get_MissingKeyIsNotAnError(t *testing.T) {
	fake := &fakeS3{getErr: &types.NoSuchKey{}}
	store, err := newS3Store(fake, "state-bucket")
	require.NoError(t, err)

	data, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, data)
}

func TestS3Get_TransportErrorSurfaces(t *testing.T) {
	fake := &fakeS3{getErr: errors.New("dial tcp: timeout")}
	store, err := newS3Store(fake, "state-bucket")
	require.NoError(t, err)

	_, _, err = store.Get(context.Background(), "key")
	require.ErrorContains(t, err, "s3 get")
}

func TestS3Put_WritesJSONObject(t *testing.T) {
	fake := &fakeS3{}
	store, err := newS3Store(fake, "state-bucket")
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "key", []byte(`{"a":1}`)))
	require.Equal(t, "state-bucket", *fake.lastPut.Bucket)
	require.Equal(t, "key", *fake.lastPut.Key)
	require.Equal(t, "application/json", *fake.lastPut.ContentType)
	require.Equal(t, `{"a":1}`, string(fake.lastPutted))
}

func TestS3Restore_ToleratesExistingBucket(t *testing.T) {
	for _, existErr := range []error{
		&types.BucketAlreadyOwnedByYou{},
		&types.BucketAlreadyExists{},
	} {
		fake := &fakeS3{createErr: existErr}
		store, err := newS3Store(fake, "state-bucket")
		require.NoError(t, err)
		require.NoError(t, store.Restore(context.Background()))
	}
}

func TestS3Restore_SurfacesOtherErrors(t *testing.T) {
	fake := &fakeS3{createErr: errors.New("access denied")}
	store, err := newS3Store(fake, "state-bucket")
	require.NoError(t, err)
	require.ErrorContains(t, store.Restore(context.Background()), "create bucket")
}

func TestNewS3Store_RequiresClientAndBucket(t *testing.T) {
	_, err := newS3Store(nil, "state-bucket")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = newS3Store(&fakeS3{}, "  ")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

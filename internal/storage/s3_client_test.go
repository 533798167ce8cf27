package storage

import (
	"context"
	"errors"
	"testing"

	pulse_errors "pulse-dm/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

type fakeHead struct {
	keys map[string]bool
	err  error
}

func (f *fakeHead) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.keys[*in.Key] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func newTestClient(head headObjectAPI) *Client {
	return &Client{
		cfg: S3Config{Region: "us-east-1", Bucket: "media", PublicBase: "https://cdn.example.com/"},
		s3:  head,
	}
}

func TestKeyFromURL(t *testing.T) {
	c := newTestClient(nil)
	cases := map[string]string{
		"https://cdn.example.com/u/1/a.png":                "u/1/a.png",
		"https://media.s3.us-east-1.amazonaws.com/u/2.png": "u/2.png",
		"http://localhost:9000/media/u/3.mp4":              "u/3.mp4",
	}
	for raw, want := range cases {
		key, ok := c.KeyFromURL(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, key, raw)
	}
	_, ok := c.KeyFromURL("https://evil.example.com/u/1/a.png")
	assert.False(t, ok)
}

func TestVerifyURL(t *testing.T) {
	head := &fakeHead{keys: map[string]bool{"u/1/a.png": true}}
	c := newTestClient(head)
	ctx := context.Background()

	assert.NoError(t, c.VerifyURL(ctx, "https://cdn.example.com/u/1/a.png"))
	assert.ErrorIs(t, c.VerifyURL(ctx, "https://cdn.example.com/u/1/missing.png"), pulse_errors.ErrValidation)
	assert.ErrorIs(t, c.VerifyURL(ctx, "https://elsewhere.example.com/x.png"), pulse_errors.ErrValidation)

	head.err = errors.New("connection refused")
	assert.ErrorIs(t, c.VerifyURL(ctx, "https://cdn.example.com/u/1/a.png"), pulse_errors.ErrUpstream)
}

func TestFileURL(t *testing.T) {
	c := newTestClient(nil)
	assert.Equal(t, "https://cdn.example.com/k.png", c.FileURL("k.png"))
	assert.Empty(t, c.FileURL(""))
}

package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyKey(t *testing.T) {
	ws := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "bodies/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.txt", BodyKey(ws, id))
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, nil)
	require.Error(t, err)
}

func TestNewS3WithStaticCredentials(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Bucket:          "emailez-bodies",
		Endpoint:        "http://127.0.0.1:9000",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "emailez-bodies", s.cfg.Bucket)
}

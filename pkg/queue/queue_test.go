package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
		ok    bool
	}{
		{0, 0, false},
		{1, 30 * time.Second, true},
		{2, 120 * time.Second, true},
		{3, 300 * time.Second, true},
		{4, 0, false},
	}
	for _, tc := range cases {
		got, ok := RetryDelay(tc.retry)
		assert.Equal(t, tc.ok, ok, "retry %d", tc.retry)
		assert.Equal(t, tc.want, got, "retry %d", tc.retry)
	}
}

func TestDecodeEmailPayload(t *testing.T) {
	p := EmailPayload{EmailID: uuid.New(), To: []string{"a@x.com"}, Subject: "Hi", Body: "Hello"}
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	got, err := DecodeEmailPayload(&Job{Type: JobTypeSendEmail, Payload: raw})
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeEmailPayload(&Job{Type: "recording_upload", Payload: raw})
	assert.Error(t, err)

	_, err = DecodeEmailPayload(&Job{Type: JobTypeSendEmail, Payload: json.RawMessage(`{"email_id":1}`)})
	assert.Error(t, err)
}

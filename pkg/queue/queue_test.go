package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobEnvelope(t *testing.T) {
	payload := MessageArchivePayload{MessageID: uuid.New(), RecipientID: "client-a", MediaRef: "x.mp4"}
	job, err := NewJob(JobTypeMessageArchive, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)
	assert.False(t, job.CreatedAt.IsZero())

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var decoded Job
	require.NoError(t, json.Unmarshal(raw, &decoded))
	var got MessageArchivePayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &got))
	assert.Equal(t, payload, got)
	assert.Equal(t, JobTypeMessageArchive, decoded.Type)
}

package responses

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract runs the behaviour every Store implementation shares
func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	callID := "call_" + uuid.NewString()

	created, err := store.CreateResponse(ctx, NewResponse{InterviewID: "iv-1", CallID: callID, Name: " Ada ", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", created.Name)
	assert.False(t, created.IsEnded)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = store.CreateResponse(ctx, NewResponse{InterviewID: "iv-1", CallID: callID})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.SaveResponse(ctx, Patch{
		IsEnded:   Bool(true),
		Duration:  Int(42),
		EndReason: String("completed"),
		Details:   &Details{Transcript: "agent: hi\nuser: hello", Questions: []string{"hi"}},
	}, callID)
	require.NoError(t, err)

	updated, err := store.SaveResponse(ctx, Patch{IsAnalysed: Bool(true), Analytics: Analytics{"overallScore": 70.0}}, callID)
	require.NoError(t, err)
	assert.True(t, updated.IsEnded)
	assert.Equal(t, 42, updated.Duration)

	got, err := store.GetResponseByCallID(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, "iv-1", got.InterviewID)
	assert.True(t, got.IsEnded)
	assert.True(t, got.IsAnalysed)
	assert.Equal(t, "completed", got.EndReason)
	assert.Equal(t, "agent: hi\nuser: hello", got.Details.Transcript)
	assert.Equal(t, []string{"hi"}, got.Details.Questions)
	assert.Equal(t, 70.0, got.Analytics["overallScore"])

	_, err = store.GetResponseByCallID(ctx, "call_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.SaveResponse(ctx, Patch{IsEnded: Bool(true)}, "call_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Ping(ctx))
}

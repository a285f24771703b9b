package responses

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_RequiresCallID(t *testing.T) {
	_, err := NewMemoryStore().CreateResponse(context.Background(), NewResponse{InterviewID: "iv-1"})
	assert.Error(t, err)
}

func TestPatch_LeavesUnsetFields(t *testing.T) {
	r := Response{IsEnded: true, Duration: 10, EndReason: "completed", Details: Details{Transcript: "x"}}
	Patch{IsAnalysed: Bool(true)}.apply(&r)

	require.True(t, r.IsAnalysed)
	assert.True(t, r.IsEnded)
	assert.Equal(t, 10, r.Duration)
	assert.Equal(t, "completed", r.EndReason)
	assert.Equal(t, "x", r.Details.Transcript)
	assert.Nil(t, r.Analytics)
}

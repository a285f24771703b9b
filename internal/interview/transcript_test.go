package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscript_AppendAndFormat(t *testing.T) {
	var tr Transcript
	require.NoError(t, tr.Append(Entry{Role: RoleAgent, Content: "Why this role?"}))
	require.NoError(t, tr.Append(Entry{Role: RoleUser, Content: "It fits my experience."}))

	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, "agent: Why this role?\nuser: It fits my experience.", tr.Format())
}

func TestTranscript_SealRejectsAppends(t *testing.T) {
	var tr Transcript
	require.NoError(t, tr.Append(Entry{Role: RoleAgent, Content: "Q"}))
	tr.Seal()

	assert.ErrorIs(t, tr.Append(Entry{Role: RoleUser, Content: "A"}), ErrSessionEnded)
	assert.Equal(t, 1, tr.Len())
}

func TestTranscript_EntriesIsACopy(t *testing.T) {
	var tr Transcript
	require.NoError(t, tr.Append(Entry{Role: RoleAgent, Content: "Q"}))

	entries := tr.Entries()
	entries[0].Content = "changed"

	assert.Equal(t, "Q", tr.Entries()[0].Content)
}

func TestTranscript_FormatEmpty(t *testing.T) {
	var tr Transcript
	assert.Equal(t, "", tr.Format())
}

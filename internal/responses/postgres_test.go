package responses

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	testStoreContract(t, store)
}

func TestJSONArg(t *testing.T) {
	v, err := jsonArg(nil, false)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = jsonArg(&Details{Transcript: "x"}, true)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.JSONEq(t, `{"transcript":"x"}`, *v)
}

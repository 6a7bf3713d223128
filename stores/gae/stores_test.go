//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/recipeauth"
)

// unreachableClient points at an emulator address nothing listens on
func unreachableClient(t *testing.T) *datastore.Client {
	t.Helper()
	t.Setenv("DATASTORE_EMULATOR_HOST", "127.0.0.1:1")
	client, err := datastore.NewClient(context.Background(), "recipeauth-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPing_Unreachable(t *testing.T) {
	client := unreachableClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.ErrorIs(t, NewIdentityStore(client, "").Ping(ctx), ra.ErrStorageUnavailable)
	assert.ErrorIs(t, NewEphemeralStore(client, "ns").Ping(ctx), ra.ErrStorageUnavailable)
}

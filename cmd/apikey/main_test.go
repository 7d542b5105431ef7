package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/store"
)

func TestRun_IssuesKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keys.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", dbPath)

	var out bytes.Buffer
	require.NoError(t, run(options{owner: "alice", name: "ci", scopes: "admin, read"}, &out))

	raw := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(raw, mw.KeyMarker))

	ctx := context.Background()
	st, closeStore, err := store.Open(ctx, config.DatabaseConfig{Driver: "sqlite", SQLitePath: dbPath}, "")
	require.NoError(t, err)
	defer closeStore()

	keys, err := st.GetAPIKeyByPrefix(ctx, raw[:mw.KeyPrefixLen])
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "alice", keys[0].OwnerID)
	assert.Equal(t, "ci", keys[0].Name)
	assert.ElementsMatch(t, []string{"admin", "read"}, keys[0].Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(keys[0].KeyHash), []byte(raw)))
}

func TestRun_RequiresOwner(t *testing.T) {
	err := run(options{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-owner")
}

func TestParseScopes(t *testing.T) {
	assert.Equal(t, []string{}, parseScopes(""))
	assert.Equal(t, []string{"admin"}, parseScopes(" admin ,,"))
}

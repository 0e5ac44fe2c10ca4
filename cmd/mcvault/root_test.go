package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/internal/secrets"
)

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "mcp", "token", "keygen", "resolve", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, name := range []string{"issue", "revoke", "list"} {
		cmd, _, err := rootCmd.Find([]string{"token", name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestKeygenPrintsUsableKey(t *testing.T) {
	var out bytes.Buffer
	keygenCmd.SetOut(&out)
	t.Cleanup(func() { keygenCmd.SetOut(nil) })

	require.NoError(t, keygenCmd.RunE(keygenCmd, nil))
	key, err := secrets.ParseMasterKey(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, key, secrets.KeySize)
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, version+"\n", out.String())
}

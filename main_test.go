package main

import (
	"testing"

	"github.com/iwanhae/ssh-gate/config"
	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreRefusesSecondOwner(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			c := &config.Config{DataDir: t.TempDir(), Backend: backend}

			server, err := openStore(c, logger)
			require.NoError(t, err)

			// an offline edit while the server runs would be overwritten by its next save
			_, err = openStore(c, logger)
			assert.ErrorIs(t, err, denylist.ErrStorageLocked)

			require.NoError(t, server.Close())

			cli, err := openStore(c, logger)
			require.NoError(t, err)
			require.NoError(t, cli.Close())
		})
	}
}

func TestOfflineEditSurvivesServerRestart(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := &config.Config{DataDir: t.TempDir(), Backend: config.BackendFile}

	store, err := openStore(c, logger)
	require.NoError(t, err)
	server := denylist.NewController(store, logger)
	server.Load()
	server.OnConnect("zed", denylist.IdentityFromKey([]byte("key-zed")))
	server.Flush()
	require.NoError(t, store.Close())

	store, err = openStore(c, logger)
	require.NoError(t, err)
	cli := denylist.NewController(store, logger)
	cli.Load()
	res, id := cli.DenyByName("zed")
	require.Equal(t, denylist.Denied, res)
	require.NoError(t, store.Close())

	store, err = openStore(c, logger)
	require.NoError(t, err)
	defer store.Close()
	restarted := denylist.NewController(store, logger)
	restarted.Load()
	assert.True(t, restarted.IsDenied(id))
}

package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startClient(t *testing.T, f *commandFixture, name string, id denylist.Identity) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c := NewClient(f.server, f.commands, conn, name, id, "10.0.0."+name)
	require.NoError(t, f.server.AddClient(c))

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Wait()
		f.server.RemoveClient(c)
	})
	return c, conn
}

func waitForOutput(t *testing.T, conn *fakeConn, substr string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return strings.Contains(conn.Output(), substr)
	}, 2*time.Second, 10*time.Millisecond, "waiting for %q", substr)
}

func TestClientBroadcastsMessages(t *testing.T) {
	f := newCommandFixture(t)
	_, alice := startClient(t, f, "alice", uuid.New())
	_, bob := startClient(t, f, "bob", uuid.New())

	waitForOutput(t, bob, "Welcome to the SSH chat")
	alice.Type("hello there\r")
	waitForOutput(t, bob, "hello there")
	waitForOutput(t, alice, "hello there")
}

func TestClientHandlesBackspaceAndLineFeeds(t *testing.T) {
	f := newCommandFixture(t)
	_, alice := startClient(t, f, "alice", uuid.New())

	alice.Type("helpx\x7f\r\n")
	waitForOutput(t, alice, ": help")
	assert.NotContains(t, alice.Output(), ": helpx")
}

func TestClientWhoami(t *testing.T) {
	f := newCommandFixture(t)
	id := uuid.New()
	_, conn := startClient(t, f, "trent", id)

	conn.Type("/whoami\r")
	waitForOutput(t, conn, id.String())
}

func TestClientOperatorBlacklistsConnectedUser(t *testing.T) {
	f := newCommandFixture(t)
	_, op := startClient(t, f, "op", f.operator)
	victimID := uuid.New()
	victim, victimConn := startClient(t, f, "victim", victimID)

	op.Type("/blacklist victim\r")
	waitForOutput(t, op, msgDeniedLive)
	waitForOutput(t, victimConn, DisabledMessage)

	select {
	case <-victim.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("victim session was not closed")
	}
	assert.True(t, f.gate.IsDenied(victimID))
}

func TestClientNonOperatorCannotBlacklist(t *testing.T) {
	f := newCommandFixture(t)
	_, conn := startClient(t, f, "walter", uuid.New())

	conn.Type("/blacklist walter\r")
	waitForOutput(t, conn, msgNoPermission)
}

func TestClientCtrlCCloses(t *testing.T) {
	f := newCommandFixture(t)
	c, conn := startClient(t, f, "zoe", uuid.New())

	conn.Type("\x03")
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not close on Ctrl+C")
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("alice"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("has space"))
	assert.Error(t, ValidateName("averyveryverylongname"))
}

func TestValidateNoCombining(t *testing.T) {
	assert.NoError(t, ValidateNoCombining("plain text"))
	assert.Error(t, ValidateNoCombining("é"))
}

package main

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iwanhae/ssh-gate/chat"
	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	out      bytes.Buffer
	exitCode int
	closed   bool
}

func newFakeSession() *fakeSession { return &fakeSession{exitCode: -1} }

func (f *fakeSession) Read(p []byte) (int, error) { return 0, io.EOF }

func (f *fakeSession) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.out.Write(p)
}

func (f *fakeSession) Exit(code int) error {
	f.mu.Lock()
	f.exitCode = code
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

// hookedGate calls before ahead of every connection check.
type hookedGate struct {
	*denylist.Controller
	before func()
}

func (g hookedGate) OnConnect(name string, id denylist.Identity) denylist.Decision {
	if g.before != nil {
		g.before()
	}
	return g.Controller.OnConnect(name, id)
}

type gatewayFixture struct {
	gw       *gateway
	gate     *denylist.Controller
	room     *chat.Server
	operator denylist.Identity
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	gate := denylist.NewController(denylist.NewNullStore(), logger)
	room := chat.NewServer(2, logger)
	gate.SetRegistry(room)
	operator := uuid.New()
	return &gatewayFixture{
		gw: &gateway{
			gate:     gate,
			room:     room,
			commands: chat.NewCommands(gate, room, []denylist.Identity{operator}, logger),
			throttle: chat.NewConnectionThrottle(0, time.Minute),
			log:      logger,
		},
		gate:     gate,
		room:     room,
		operator: operator,
	}
}

func TestAdmitRegistersAndRecordsName(t *testing.T) {
	f := newGatewayFixture(t)
	key := []byte("key-bob")
	id := denylist.IdentityFromKey(key)

	client, err := f.gw.admit(newFakeSession(), " Bob ", "10.0.0.1", key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Bob", client.Name())

	live, ok := f.room.Lookup("bob")
	assert.True(t, ok)
	assert.Equal(t, id, live)

	f.room.RemoveClient(client)
	cached, source := f.gate.Resolve("BOB")
	assert.Equal(t, denylist.SourceCache, source)
	assert.Equal(t, id, cached)
}

func TestAdmitRefusesDeniedIdentity(t *testing.T) {
	f := newGatewayFixture(t)
	key := []byte("key-carol")
	f.gate.DenyByLiveIdentity("carol", denylist.IdentityFromKey(key))

	_, err := f.gw.admit(newFakeSession(), "carol", "10.0.0.1", key, time.Now())
	assert.ErrorIs(t, err, errDenied)
	assert.Equal(t, chat.DisabledMessage, rejectMessage(err))

	_, online := f.room.Lookup("carol")
	assert.False(t, online)
	assert.True(t, f.room.CheckIPLimit("10.0.0.1"))
}

func TestAdmitBlacklistDuringGateCheckKeepsUserOut(t *testing.T) {
	f := newGatewayFixture(t)
	key := []byte("key-dave")
	id := denylist.IdentityFromKey(key)
	conn := newFakeSession()

	var reply chat.Reply
	f.gw.gate = hookedGate{
		Controller: f.gate,
		before: func() {
			reply = f.gw.commands.Blacklist(f.operator, "op", []string{"dave"})
		},
	}

	_, err := f.gw.admit(conn, "dave", "10.0.0.1", key, time.Now())
	assert.ErrorIs(t, err, errDenied)

	// found through the live registry, so the session is cut
	assert.Equal(t, "Player added to the blacklist.", reply.Text)
	assert.Contains(t, conn.Output(), chat.DisabledMessage)
	assert.Equal(t, 1, conn.exitCode)

	assert.True(t, f.gate.IsDenied(id))
	_, online := f.room.Lookup("dave")
	assert.False(t, online)
	assert.Equal(t, 0, f.room.ClientCount())
}

func TestAdmitRefusedNameIsNotRecorded(t *testing.T) {
	f := newGatewayFixture(t)
	aliceKey, malloryKey := []byte("key-alice"), []byte("key-mallory")
	aliceID := denylist.IdentityFromKey(aliceKey)
	malloryID := denylist.IdentityFromKey(malloryKey)

	alice, err := f.gw.admit(newFakeSession(), "alice", "10.0.0.1", aliceKey, time.Now())
	require.NoError(t, err)

	_, err = f.gw.admit(newFakeSession(), "alice", "10.0.0.2", malloryKey, time.Now())
	assert.ErrorIs(t, err, chat.ErrNameInUse)

	f.room.RemoveClient(alice)
	res, id := f.gate.DenyByName("alice")
	assert.Equal(t, denylist.Denied, res)
	assert.Equal(t, aliceID, id)
	assert.False(t, f.gate.IsDenied(malloryID))
}

func TestAdmitConnectionLimits(t *testing.T) {
	f := newGatewayFixture(t)

	for i, name := range []string{"erin", "frank"} {
		_, err := f.gw.admit(newFakeSession(), name, "10.0.0.1", []byte{byte(i)}, time.Now())
		require.NoError(t, err)
	}
	_, err := f.gw.admit(newFakeSession(), "grace", "10.0.0.1", []byte("key-grace"), time.Now())
	assert.ErrorIs(t, err, chat.ErrTooManyConnections)
	_, source := f.gate.Resolve("grace")
	assert.Equal(t, denylist.SourceNone, source)

	f.gw.throttle = chat.NewConnectionThrottle(1, time.Minute)
	now := time.Now()
	_, err = f.gw.admit(newFakeSession(), "heidi", "10.0.0.9", []byte("key-heidi"), now)
	require.NoError(t, err)
	_, err = f.gw.admit(newFakeSession(), "ivan", "10.0.0.9", []byte("key-ivan"), now.Add(time.Second))
	assert.ErrorIs(t, err, errThrottled)
}

func TestAdmitRequiresKeyAndValidName(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gw.admit(newFakeSession(), "judy", "10.0.0.1", nil, time.Now())
	assert.ErrorIs(t, err, errNoKey)

	for _, name := range []string{"", "   ", "two words", "averyveryverylongname"} {
		_, err := f.gw.admit(newFakeSession(), name, "10.0.0.1", []byte("key"), time.Now())
		assert.Error(t, err, "name %q", name)
	}
	assert.Equal(t, 0, f.room.ClientCount())
	_, source := f.gate.Resolve("judy")
	assert.Equal(t, denylist.SourceNone, source)
}

package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/reconcile"
	"chat-realtime/internal/repositories/kv"
	"chat-realtime/internal/ws"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type testServer struct {
	url      string
	store    *kv.Store
	engine   *chat.Engine
	groups   *chat.GroupService
	registry *presence.Registry
	auth     *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store, err := kv.Open("", logger)
	require.NoError(t, err)

	hub := ws.NewHub(logger)
	registry := presence.NewRegistry(store, hub, logger)
	engine := chat.NewEngine(store, store, store, hub, logger)
	authSvc := auth.NewService("test-secret", "chat-realtime-test")
	handler := ws.NewHandler(hub, engine, registry, authSvc, ws.Options{EventTimeout: 2 * time.Second, QueueSize: 64}, logger)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
		_ = store.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		store:    store,
		engine:   engine,
		groups:   chat.NewGroupService(store, store, hub, logger),
		registry: registry,
		auth:     authSvc,
	}
}

func (s *testServer) user(t *testing.T, name string) string {
	t.Helper()
	u, err := s.store.CreateUser(context.Background(), name)
	require.NoError(t, err)
	return u.ID
}

// connect dials as userID and waits until the server has registered the
// connection.
func (s *testServer) connect(t *testing.T, userID string, opts Options) *Client {
	t.Helper()
	before := len(s.registry.Connections(userID))

	token, err := s.auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	c, err := Dial(context.Background(), s.url, token, reconcile.NewStore(userID), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, func() bool {
		return len(s.registry.Connections(userID)) == before+1
	}, waitFor, tick)
	return c
}

func singleEntry(t *testing.T, c *Client, peer reconcile.Peer) reconcile.Entry {
	t.Helper()
	view := c.Store().View(peer)
	require.Len(t, view, 1)
	return view[0]
}

func TestDialRejectsBadToken(t *testing.T) {
	s := newTestServer(t)

	_, err := Dial(context.Background(), s.url, "garbage", reconcile.NewStore("x"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDirectMessageRoundTrip(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	ac := s.connect(t, alice, Options{})
	bc := s.connect(t, bob, Options{AutoDeliver: true})

	ref, err := ac.Send(reconcile.Draft{Content: "hi", Recipient: bob})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view := bc.Store().View(reconcile.UserPeer(alice))
		return len(view) == 1 && view[0].Message.Content == "hi"
	}, waitFor, tick)

	// confirmed in place, then delivered by bob's client
	require.Eventually(t, func() bool {
		view := ac.Store().View(reconcile.UserPeer(bob))
		return len(view) == 1 && ac.Store().Tick(view[0]) == reconcile.TickDelivered
	}, waitFor, tick)
	entry := singleEntry(t, ac, reconcile.UserPeer(bob))
	assert.Equal(t, ref, entry.LocalRef)
	assert.NotEmpty(t, entry.Message.ID)
	assert.NotEqual(t, ref, entry.Message.ID)

	require.Equal(t, 1, bc.Store().Unread(reconcile.UserPeer(alice)))
	require.NoError(t, bc.MarkPeerSeen(reconcile.UserPeer(alice)))
	assert.Zero(t, bc.Store().Unread(reconcile.UserPeer(alice)))

	require.Eventually(t, func() bool {
		view := ac.Store().View(reconcile.UserPeer(bob))
		return len(view) == 1 && ac.Store().Tick(view[0]) == reconcile.TickSeen
	}, waitFor, tick)
}

func TestOfflineRecipientSeesHistoryAndSenderSeesSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	ac := s.connect(t, alice, Options{})
	_, err := ac.Send(reconcile.Draft{Content: "hi", Recipient: bob})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		view := ac.Store().View(reconcile.UserPeer(bob))
		return len(view) == 1 && view[0].Confirmed()
	}, waitFor, tick)

	stored := singleEntry(t, ac, reconcile.UserPeer(bob)).Message
	assert.Empty(t, stored.DeliveredTo)
	assert.Empty(t, stored.SeenBy)

	bc := s.connect(t, bob, Options{})
	history, err := s.engine.History(ctx, bob, models.PeerUser, alice)
	require.NoError(t, err)
	bc.Store().LoadHistory(reconcile.UserPeer(alice), history)
	assert.Equal(t, "hi", singleEntry(t, bc, reconcile.UserPeer(alice)).Message.Content)

	require.NoError(t, bc.MarkPeerSeen(reconcile.UserPeer(alice)))

	require.Eventually(t, func() bool {
		view := ac.Store().View(reconcile.UserPeer(bob))
		return len(view) == 1 && ac.Store().Tick(view[0]) == reconcile.TickSeen
	}, waitFor, tick)
	assert.Empty(t, singleEntry(t, ac, reconcile.UserPeer(bob)).Message.DeliveredTo)
}

func TestRejectedSendFailsOptimisticEntryOnSenderOnly(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	ac := s.connect(t, alice, Options{})
	bc := s.connect(t, bob, Options{})

	ref, err := ac.Send(reconcile.Draft{Recipient: bob})
	require.NoError(t, err)

	select {
	case payload := <-ac.Errors():
		assert.Equal(t, models.EventSend, payload.Event)
		assert.Equal(t, "EmptyMessage", payload.Code)
		assert.Equal(t, ref, payload.ClientRef)
	case <-time.After(waitFor):
		t.Fatal("no error event")
	}
	entry := singleEntry(t, ac, reconcile.UserPeer(bob))
	assert.True(t, entry.Failed)
	assert.Equal(t, reconcile.TickFailed, ac.Store().Tick(entry))

	// a later push reaching bob proves nothing was queued for him before it
	_, err = ac.Send(reconcile.Draft{Content: "ok", Recipient: bob})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(bc.Store().View(reconcile.UserPeer(alice))) == 1
	}, waitFor, tick)
	assert.Empty(t, bc.Errors())
}

func TestGroupFanOutAndJoinAuthorization(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	alice, bob, carol := s.user(t, "alice"), s.user(t, "bob"), s.user(t, "carol")

	group, err := s.groups.Create(ctx, alice, "team", []string{bob})
	require.NoError(t, err)

	ac := s.connect(t, alice, Options{})
	bc := s.connect(t, bob, Options{AutoDeliver: true})
	cc := s.connect(t, carol, Options{})

	require.NoError(t, cc.JoinGroup(group.ID))
	select {
	case payload := <-cc.Errors():
		assert.Equal(t, models.EventJoinGroup, payload.Event)
		assert.Equal(t, "NotAuthorized", payload.Code)
	case <-time.After(waitFor):
		t.Fatal("no error event")
	}

	_, err = ac.Send(reconcile.Draft{Content: "hello team", Group: group.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bc.Store().View(reconcile.GroupPeer(group.ID))) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		view := ac.Store().View(reconcile.GroupPeer(group.ID))
		return len(view) == 1 && ac.Store().Tick(view[0]) == reconcile.TickDelivered
	}, waitFor, tick)

	// carol's own channel still works, and she never saw the group message
	_, err = ac.Send(reconcile.Draft{Content: "dm", Recipient: carol})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(cc.Store().View(reconcile.UserPeer(alice))) == 1
	}, waitFor, tick)
	assert.Empty(t, cc.Store().View(reconcile.GroupPeer(group.ID)))
}

func TestEditAndDeletePropagate(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	ac := s.connect(t, alice, Options{})
	bc := s.connect(t, bob, Options{})

	_, err := ac.Send(reconcile.Draft{Content: "typo", Recipient: bob})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(bc.Store().View(reconcile.UserPeer(alice))) == 1
	}, waitFor, tick)
	id := singleEntry(t, bc, reconcile.UserPeer(alice)).Message.ID

	_, err = s.engine.EditMessage(ctx, id, alice, "fixed")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		view := bc.Store().View(reconcile.UserPeer(alice))
		return len(view) == 1 && view[0].Message.Content == "fixed" && view[0].Message.EditedAt != nil
	}, waitFor, tick)

	_, err = s.engine.DeleteMessage(ctx, id, alice)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(bc.Store().View(reconcile.UserPeer(alice))) == 0 &&
			len(ac.Store().View(reconcile.UserPeer(bob))) == 0
	}, waitFor, tick)
}

func TestPresenceChangesReachOtherClients(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	ac := s.connect(t, alice, Options{})
	bc := s.connect(t, bob, Options{})

	require.Eventually(t, func() bool {
		status, ok := ac.Status(bob)
		return ok && status.IsOnline
	}, waitFor, tick)

	require.NoError(t, bc.Close())
	require.Eventually(t, func() bool {
		status, ok := ac.Status(bob)
		return ok && !status.IsOnline && !status.LastSeen.IsZero()
	}, waitFor, tick)
}

func TestEveryDeviceReceivesPushes(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	phone := s.connect(t, bob, Options{})
	laptop := s.connect(t, bob, Options{})
	ac := s.connect(t, alice, Options{})

	_, err := ac.Send(reconcile.Draft{Content: "both", Recipient: bob})
	require.NoError(t, err)

	for _, device := range []*Client{phone, laptop} {
		require.Eventually(t, func() bool {
			return len(device.Store().View(reconcile.UserPeer(alice))) == 1
		}, waitFor, tick)
	}

	require.NoError(t, phone.Close())
	<-phone.Done()
	assert.True(t, s.registry.IsOnline(bob))
	assert.ErrorIs(t, phone.MarkSeen("x"), ErrClosed)
}

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

func startTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Start(ctx)

	mux := http.NewServeMux()
	NewHandler(h).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, role, handle string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auction?role=" + role
	if handle != "" {
		url += "&handle=" + handle
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *events.AuctionEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev events.AuctionEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return &ev
}

func waitForConnections(t *testing.T, h *Hub, total int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Stats()["total"] == total
	}, 2*time.Second, 10*time.Millisecond)
}

func mustEvent(t *testing.T, eventType events.EventType, payload interface{}) *events.AuctionEvent {
	t.Helper()
	ev, err := events.New(eventType, time.Now(), payload)
	require.NoError(t, err)
	return ev
}

func TestHubRoleFiltering(t *testing.T) {
	h, srv := startTestHub(t)

	admin := dial(t, srv, "admin", "")
	spectator := dial(t, srv, "spectator", "")
	waitForConnections(t, h, 2)

	// Snapshots carry every bidder's balance: admin-only.
	h.Publish(mustEvent(t, events.EventTypeAuctionSnapshot, events.AuctionSnapshotPayload{Phase: "idle"}))
	h.Publish(mustEvent(t, events.EventTypeBidPlaced, events.BidPlacedPayload{Bidder: "a", Amount: 50}))

	assert.Equal(t, events.EventTypeAuctionSnapshot, readEvent(t, admin).Type)
	assert.Equal(t, events.EventTypeBidPlaced, readEvent(t, admin).Type)

	// The spectator's first delivery is the public event: the snapshot was
	// never sent their way.
	assert.Equal(t, events.EventTypeBidPlaced, readEvent(t, spectator).Type)
}

func TestHubPrivateDelivery(t *testing.T) {
	h, srv := startTestHub(t)

	alice := dial(t, srv, "bidder", "alice")
	bob := dial(t, srv, "bidder", "bob")
	waitForConnections(t, h, 2)

	h.PublishTo("alice", mustEvent(t, events.EventTypeBidderBalance, events.BidderBalancePayload{Handle: "alice", Capital: 950}))
	h.Publish(mustEvent(t, events.EventTypeLotOpened, events.LotOpenedPayload{BasePrice: 25}))

	assert.Equal(t, events.EventTypeBidderBalance, readEvent(t, alice).Type)
	assert.Equal(t, events.EventTypeLotOpened, readEvent(t, alice).Type)

	// Bob never sees alice's balance.
	assert.Equal(t, events.EventTypeLotOpened, readEvent(t, bob).Type)
}

func TestHubOrderPreserved(t *testing.T) {
	h, srv := startTestHub(t)

	spectator := dial(t, srv, "spectator", "")
	waitForConnections(t, h, 1)

	amounts := []int64{30, 40, 50, 60, 70}
	for _, amount := range amounts {
		h.Publish(mustEvent(t, events.EventTypeBidPlaced, events.BidPlacedPayload{Bidder: "a", Amount: amount}))
	}

	for _, want := range amounts {
		ev := readEvent(t, spectator)
		require.Equal(t, events.EventTypeBidPlaced, ev.Type)
		payload, err := events.ParsePayload(ev)
		require.NoError(t, err)
		assert.Equal(t, want, payload.(events.BidPlacedPayload).Amount)
	}
}

func TestHandlerRejectsBadSubscriptions(t *testing.T) {
	_, srv := startTestHub(t)

	resp, err := http.Get(srv.URL + "/ws/auction?role=superuser")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bidders must identify themselves so private events can reach them.
	resp, err = http.Get(srv.URL + "/ws/auction?role=bidder")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"admin", "bidder", "spectator"} {
		role, err := ParseRole(valid)
		require.NoError(t, err)
		assert.Equal(t, Role(valid), role)
	}
	_, err := ParseRole("auctioneer")
	require.Error(t, err)
}

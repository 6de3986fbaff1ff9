package twitch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwatch/internal/channel"
)

// gqlHarness records every operation the client sends and serves
// canned payloads keyed by operation name.
type gqlHarness struct {
	mu      sync.Mutex
	calls   []GQLOperation
	headers http.Header
	replies map[string]string
	status  int
}

func (h *gqlHarness) reply(operation, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies[operation] = body
}

func (h *gqlHarness) setStatus(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = code
}

func (h *gqlHarness) operations() []GQLOperation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]GQLOperation, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *gqlHarness) lastHeaders() http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.headers
}

func newTestClient(t *testing.T) (*Client, *gqlHarness) {
	t.Helper()
	h := &gqlHarness{replies: make(map[string]string), status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var op GQLOperation
		require.NoError(t, json.Unmarshal(body, &op))

		h.mu.Lock()
		h.calls = append(h.calls, op)
		h.headers = r.Header.Clone()
		reply, ok := h.replies[op.OperationName]
		status := h.status
		h.mu.Unlock()

		if !ok {
			reply = `{"data":{}}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	auth := NewAuth(Config{}, nil, "tok-test")
	auth.userID = 4200

	client, err := NewClient(Config{GQLURL: srv.URL}, auth)
	require.NoError(t, err)
	return client, h
}

func TestGQLRequestShape(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("ReportMenuItem", `{"data":{"user":{"id":"123","login":"someone"}}}`)

	id, err := client.FetchChannelID(context.Background(), "someone")
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)

	headers := h.lastHeaders()
	assert.Equal(t, "OAuth tok-test", headers.Get("Authorization"))
	assert.Equal(t, "kimne78kx3ncx6brgo4mv6wki5h1ko", headers.Get("Client-Id"))
	assert.Equal(t, "Twitch Drops App", headers.Get("User-Agent"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	ops := h.operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "ReportMenuItem", ops[0].OperationName)
	assert.Equal(t, 1, ops[0].Extensions.PersistedQuery.Version)
	assert.Equal(t, opChannelID.Extensions.PersistedQuery.SHA256Hash, ops[0].Extensions.PersistedQuery.SHA256Hash)
	assert.Equal(t, "someone", ops[0].Variables["channelLogin"])
}

func TestWithVariablesLeavesCatalogUntouched(t *testing.T) {
	op := opInventory.WithVariables(map[string]any{"key": "value"})
	assert.Equal(t, "value", op.Variables["key"])
	assert.Nil(t, opInventory.Variables)
}

func TestFetchStreamOnline(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("VideoPlayerStreamInfoOverlayChannel", `{"data":{"user":{
		"id":"123",
		"broadcastSettings":{"title":"drops on","game":{"id":"9","name":"somegame","displayName":"Some Game"}},
		"stream":{"id":"b-77","viewersCount":1500,"tags":[{"id":"c2542d6d-cd10-4532-919b-3d19f30a768b"}]}
	}}}`)

	stream, err := client.FetchStream(context.Background(), "someone")
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "b-77", stream.ID)
	assert.Equal(t, "9", stream.GameID)
	assert.Equal(t, "Some Game", stream.Game)
	assert.Equal(t, "drops on", stream.Title)
	assert.Equal(t, 1500, stream.ViewerCount)
	assert.True(t, stream.DropsEnabled)
}

func TestFetchStreamOffline(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("VideoPlayerStreamInfoOverlayChannel", `{"data":{"user":{"id":"123","broadcastSettings":{"title":"","game":null},"stream":null}}}`)

	stream, err := client.FetchStream(context.Background(), "someone")
	require.NoError(t, err)
	assert.Nil(t, stream)
}

func TestFetchStreamUnknownChannel(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("VideoPlayerStreamInfoOverlayChannel", `{"data":{"user":null}}`)

	_, err := client.FetchStream(context.Background(), "nobody")
	assert.ErrorContains(t, err, "unknown channel")
}

func TestFetchStreamWithoutDropsTag(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("VideoPlayerStreamInfoOverlayChannel", `{"data":{"user":{
		"id":"123",
		"broadcastSettings":{"title":"t","game":{"id":"9","name":"somegame","displayName":"Some Game"}},
		"stream":{"id":"b-77","viewersCount":10,"tags":[{"id":"other-tag"}]}
	}}}`)

	stream, err := client.FetchStream(context.Background(), "someone")
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.False(t, stream.DropsEnabled)
}

func TestIsLive(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("WithIsStreamLiveQuery", `{"data":{"user":{"stream":{"id":"b-1"}}}}`)

	live, err := client.IsLive(context.Background(), 123)
	require.NoError(t, err)
	assert.True(t, live)

	h.reply("WithIsStreamLiveQuery", `{"data":{"user":{"stream":null}}}`)
	live, err = client.IsLive(context.Background(), 123)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestGQLErrorsSurface(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("Inventory", `{"data":null,"errors":[{"message":"service error"}]}`)

	_, err := client.FetchInventory(context.Background())
	assert.ErrorContains(t, err, "service error")
}

func TestGQLUnauthorized(t *testing.T) {
	client, h := newTestClient(t)
	h.setStatus(http.StatusUnauthorized)

	_, err := client.FetchInventory(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFetchInventory(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("Inventory", `{"data":{"currentUser":{"inventory":{"dropCampaignsInProgress":[
		{"id":"c-1","name":"Campaign One","status":"ACTIVE",
		 "game":{"id":"9","name":"somegame","displayName":"Some Game"},
		 "timeBasedDrops":[{"id":"d-1","name":"Drop One","requiredMinutesWatched":120,
			"self":{"currentMinutesWatched":30,"isClaimed":false,"dropInstanceID":""}}]}
	]}}}}`)

	inv, err := client.FetchInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, inv.Campaigns, 1)
	assert.Equal(t, "c-1", inv.Campaigns[0].ID)
	require.Len(t, inv.Campaigns[0].TimedDrops, 1)
	assert.Equal(t, 30, inv.Campaigns[0].TimedDrops[0].Self.CurrentMinutes)
}

func TestFetchPointsContext(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("ChannelPointsContext", `{"data":{"community":{"channel":{"id":"123","self":{"communityPoints":{"balance":740,"availableClaim":{"id":"claim-1"}}}}}}}`)

	pc, err := client.FetchPointsContext(context.Background(), "someone")
	require.NoError(t, err)
	assert.Equal(t, "123", pc.ChannelID)
	assert.Equal(t, 740, pc.Balance)
	assert.True(t, pc.AvailableClaim())
	assert.Equal(t, "claim-1", pc.ClaimID)

	ops := h.operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "someone", ops[0].Variables["channelLogin"])
}

func TestFetchPointsContextWithoutClaim(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("ChannelPointsContext", `{"data":{"community":{"channel":{"id":"123","self":{"communityPoints":{"balance":0,"availableClaim":null}}}}}}`)

	pc, err := client.FetchPointsContext(context.Background(), "someone")
	require.NoError(t, err)
	assert.False(t, pc.AvailableClaim())
}

func TestClaimPointsVariablesAndDedupe(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("ClaimCommunityPoints", `{"data":{"claimCommunityPoints":{"currentPoints":790}}}`)

	require.NoError(t, client.ClaimPoints(context.Background(), "123", "claim-1"))
	require.NoError(t, client.ClaimPoints(context.Background(), "123", "claim-1"))

	ops := h.operations()
	require.Len(t, ops, 1, "second claim of the same id must be suppressed")
	input, ok := ops[0].Variables["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123", input["channelID"])
	assert.Equal(t, "claim-1", input["claimID"])
}

func TestClaimDrop(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("DropsPage_ClaimDropRewards", `{"data":{"claimDropRewards":{"status":"ELIGIBLE_FOR_ALL"}}}`)

	claimed, err := client.ClaimDrop(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// Repeat claims short-circuit on the cache.
	claimed, err = client.ClaimDrop(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	ops := h.operations()
	require.Len(t, ops, 1)
	input, ok := ops[0].Variables["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "inst-1", input["dropInstanceID"])
}

func TestClaimDropAlreadyClaimed(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("DropsPage_ClaimDropRewards", `{"data":{"claimDropRewards":{"status":"DROP_INSTANCE_ALREADY_CLAIMED"}}}`)

	claimed, err := client.ClaimDrop(context.Background(), "inst-2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimDropUnexpectedStatus(t *testing.T) {
	client, h := newTestClient(t)
	h.reply("DropsPage_ClaimDropRewards", `{"data":{"claimDropRewards":{"status":"MISSING_ENTITLEMENT"}}}`)

	claimed, err := client.ClaimDrop(context.Background(), "inst-3")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSendWatch(t *testing.T) {
	var (
		mu      sync.Mutex
		payload []byte
	)
	watchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		raw, err := base64.StdEncoding.DecodeString(r.PostFormValue("data"))
		require.NoError(t, err)
		mu.Lock()
		payload = raw
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer watchSrv.Close()

	auth := NewAuth(Config{}, nil, "tok-test")
	auth.userID = 4200
	client, err := NewClient(Config{WatchURL: watchSrv.URL}, auth)
	require.NoError(t, err)

	ch := channel.New(123, "someone", "Someone")
	ch.SetStream(&channel.Stream{ID: "b-77", GameID: "9", Game: "Some Game"})

	require.NoError(t, client.SendWatch(context.Background(), ch))

	mu.Lock()
	defer mu.Unlock()
	var events []map[string]any
	require.NoError(t, json.Unmarshal(payload, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "minute-watched", events[0]["event"])

	props, ok := events[0]["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "b-77", props["broadcast_id"])
	assert.Equal(t, float64(123), props["channel_id"])
	assert.Equal(t, float64(4200), props["user_id"])
	assert.Equal(t, "someone", props["channel"])
}

func TestSendWatchOffline(t *testing.T) {
	auth := NewAuth(Config{}, nil, "tok-test")
	client, err := NewClient(Config{}, auth)
	require.NoError(t, err)

	ch := channel.New(123, "someone", "")
	err = client.SendWatch(context.Background(), ch)
	assert.ErrorContains(t, err, "no active stream")
}

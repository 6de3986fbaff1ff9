package watcher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwatch/internal/channel"
	"dropwatch/internal/twitch"
)

func installInventory(s *Scheduler, inv *twitch.Inventory) {
	s.invMu.Lock()
	s.inventory = inv
	s.invMu.Unlock()
}

func singleDropInventory(drop twitch.TimedDrop) *twitch.Inventory {
	return &twitch.Inventory{Campaigns: []twitch.Campaign{{
		ID:         "c-1",
		Name:       "Campaign One",
		Status:     twitch.CampaignActive,
		Game:       twitch.Game{ID: "9", Name: "somegame"},
		TimedDrops: []twitch.TimedDrop{drop},
	}}}
}

func dropState(s *Scheduler, dropID string) (claimed bool, minutes int) {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	_, drop := s.inventory.FindDrop(dropID)
	if drop == nil {
		return false, 0
	}
	return drop.Self.IsClaimed, drop.Self.CurrentMinutes
}

func TestUserTopics(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestScheduler(t, testConfig(), api)

	topics := s.UserTopics(4200)
	require.Len(t, topics, 2)
	assert.Equal(t, "user-drop-events.4200", topics[0].Key())
	assert.Equal(t, "community-points-user-v1.4200", topics[1].Key())
}

func TestChannelTopics(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestScheduler(t, testConfig(), api)

	topics := s.ChannelTopics(channel.New(123, "somebody", ""))
	require.Len(t, topics, 1)
	assert.Equal(t, "video-playback-by-id.123", topics[0].Key())
}

func TestDropsHandlerProgress(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestScheduler(t, testConfig(), api)

	now := time.Now().UTC()
	installInventory(s, singleDropInventory(twitch.TimedDrop{
		ID:              "d-1",
		Name:            "Drop One",
		StartAt:         now.Add(-time.Hour),
		EndAt:           now.Add(time.Hour),
		RequiredMinutes: 120,
		Self:            twitch.DropSelf{CurrentMinutes: 10},
	}))

	h := s.DropsHandler()
	payload := `{"type":"drop-progress","data":{"drop_id":"d-1","current_progress_min":44,"required_progress_min":120}}`
	require.NoError(t, h(json.RawMessage(payload)))

	_, minutes := dropState(s, "d-1")
	assert.Equal(t, 44, minutes)
}

func TestDropsHandlerProgressUnknownDrop(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestScheduler(t, testConfig(), api)

	h := s.DropsHandler()
	payload := `{"type":"drop-progress","data":{"drop_id":"nope","current_progress_min":5,"required_progress_min":120}}`
	assert.NoError(t, h(json.RawMessage(payload)))
}

func TestDropsHandlerClaim(t *testing.T) {
	api := newFakeAPI()
	s, rec := newTestScheduler(t, testConfig(), api)

	drop := twitch.TimedDrop{
		ID:              "d-1",
		Name:            "Drop One",
		RequiredMinutes: 120,
		Self:            twitch.DropSelf{CurrentMinutes: 120},
	}
	drop.BenefitEdges = make([]twitch.BenefitEdge, 1)
	drop.BenefitEdges[0].Benefit.ID = "b-1"
	drop.BenefitEdges[0].Benefit.Name = "Cool Hat"
	installInventory(s, singleDropInventory(drop))
	s.interest.Replace([]twitch.Game{{ID: "9"}})

	h := s.DropsHandler()
	payload := `{"type":"drop-claim","data":{"drop_id":"d-1","drop_instance_id":"inst-9"}}`
	require.NoError(t, h(json.RawMessage(payload)))

	require.Eventually(t, func() bool {
		claims := api.claimedDrops()
		return len(claims) == 1 && claims[0] == "inst-9"
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		claimed, _ := dropState(s, "d-1")
		return claimed
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, c := range rec.recorded() {
			if c.Kind == "drop" && c.ID == "inst-9" && c.Benefit == "Cool Hat" {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)

	// Nothing left to earn, so the game drops out of the interest set
	// and the scheduler is woken to move on.
	require.Eventually(t, func() bool {
		return len(s.InterestGames()) == 0 && s.rescan.IsSet()
	}, 3*time.Second, 5*time.Millisecond)
}

func TestDropsHandlerClaimUnknownDrop(t *testing.T) {
	api := newFakeAPI()
	s, rec := newTestScheduler(t, testConfig(), api)

	h := s.DropsHandler()
	payload := `{"type":"drop-claim","data":{"drop_id":"stale","drop_instance_id":"inst-77"}}`
	require.NoError(t, h(json.RawMessage(payload)))

	// The reward is claimed even when local inventory has never heard
	// of the drop.
	require.Eventually(t, func() bool {
		claims := api.claimedDrops()
		return len(claims) == 1 && claims[0] == "inst-77"
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		claims := rec.recorded()
		return len(claims) == 1 && claims[0].ID == "inst-77"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestDropsHandlerClaimRejected(t *testing.T) {
	api := newFakeAPI()
	api.claimOK = false
	s, rec := newTestScheduler(t, testConfig(), api)

	drop := twitch.TimedDrop{ID: "d-1", Name: "Drop One", RequiredMinutes: 120, Self: twitch.DropSelf{CurrentMinutes: 120}}
	installInventory(s, singleDropInventory(drop))

	h := s.DropsHandler()
	payload := `{"type":"drop-claim","data":{"drop_id":"d-1","drop_instance_id":"inst-9"}}`
	require.NoError(t, h(json.RawMessage(payload)))

	require.Eventually(t, func() bool {
		return len(api.claimedDrops()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	claimed, _ := dropState(s, "d-1")
	assert.False(t, claimed, "a rejected claim must not mark the drop claimed")
	assert.Empty(t, rec.recorded())
}

func TestDropsHandlerMalformed(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestScheduler(t, testConfig(), api)
	h := s.DropsHandler()

	assert.Error(t, h(json.RawMessage(`{`)))
	assert.Error(t, h(json.RawMessage(`{"type":"drop-progress","data":{"drop_id":5}}`)))
	assert.NoError(t, h(json.RawMessage(`{"type":"somewhere-new"}`)), "unknown event types are ignored")
}

func TestPointsHandlerEarned(t *testing.T) {
	api := newFakeAPI()
	s, rec := newTestScheduler(t, testConfig(), api)

	h := s.PointsHandler()
	payload := `{"type":"points-earned","data":{"channel_id":"4","point_gain":{"total_points":50,"reason_code":"WATCH"},"balance":{"balance":400}}}`
	require.NoError(t, h(json.RawMessage(payload)))

	// Earning points is bookkeeping only.
	assert.Empty(t, api.claimedPoints())
	assert.Empty(t, rec.recorded())
}

func TestPointsHandlerClaimAvailable(t *testing.T) {
	api := newFakeAPI()
	s, rec := newTestScheduler(t, testConfig(), api)

	h := s.PointsHandler()
	payload := `{"type":"claim-available","data":{"claim":{"id":"claim-7","channel_id":"4"}}}`
	require.NoError(t, h(json.RawMessage(payload)))

	require.Eventually(t, func() bool {
		claims := api.claimedPoints()
		return len(claims) == 1 && claims[0] == "claim-7"
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, c := range rec.recorded() {
			if c.Kind == "points_bonus" && c.ID == "claim-7" && c.ChannelID == "4" {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)
}

func TestPointsHandlerMalformed(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestScheduler(t, testConfig(), api)
	h := s.PointsHandler()

	assert.Error(t, h(json.RawMessage(`not json`)))
	assert.Error(t, h(json.RawMessage(`{"type":"claim-available","data":{"claim":5}}`)))
}

func TestPlaybackStreamDown(t *testing.T) {
	api := newFakeAPI()
	ch := eligibleChannel(4, "good_one", "9")
	s, _ := newTestScheduler(t, testConfig(), api, ch)

	h := s.PlaybackHandler(ch)
	require.NoError(t, h(json.RawMessage(`{"type":"stream-down","server_time":1700000000}`)))

	assert.False(t, ch.Online())
	assert.True(t, s.rescan.IsSet())
}

func TestPlaybackViewCountWhileOnline(t *testing.T) {
	api := newFakeAPI()
	ch := eligibleChannel(4, "good_one", "9")
	s, _ := newTestScheduler(t, testConfig(), api, ch)

	h := s.PlaybackHandler(ch)
	require.NoError(t, h(json.RawMessage(`{"type":"viewcount","server_time":1700000000,"viewers":450}`)))

	assert.Equal(t, 450, ch.Snapshot().ViewerCount)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, api.refreshCount("good_one"), "an applied viewer count needs no state check")
}

func TestPlaybackViewCountWhileBelievedOffline(t *testing.T) {
	api := newFakeAPI()
	ch := channel.New(4, "good_one", "")
	api.live[4] = true
	api.streams["good_one"] = &channel.Stream{ID: "b-4", GameID: "9", Game: "Game 9", ViewerCount: 450, DropsEnabled: true}
	s, _ := newTestScheduler(t, testConfig(), api, ch)

	h := s.PlaybackHandler(ch)
	require.NoError(t, h(json.RawMessage(`{"type":"viewcount","viewers":450}`)))

	// Viewer counts only arrive for live broadcasts, so the stored
	// state was stale and gets refreshed.
	require.Eventually(t, func() bool {
		return ch.Online()
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, api.refreshCount("good_one"))
	assert.True(t, s.rescan.IsSet())
}

func TestPlaybackStreamUp(t *testing.T) {
	api := newFakeAPI()
	ch := channel.New(4, "good_one", "")
	api.live[4] = true
	api.streams["good_one"] = &channel.Stream{ID: "b-4", GameID: "9", Game: "Game 9", DropsEnabled: true}
	s, _ := newTestScheduler(t, testConfig(), api, ch)

	h := s.PlaybackHandler(ch)
	require.NoError(t, h(json.RawMessage(`{"type":"stream-up","server_time":1700000000,"play_delay":0}`)))

	require.Eventually(t, func() bool {
		return ch.Online()
	}, 3*time.Second, 5*time.Millisecond)
	snap := ch.Snapshot()
	assert.True(t, snap.DropsEnabled)
	assert.Equal(t, "9", snap.GameID)
}

func TestPlaybackStreamUpNotActuallyLive(t *testing.T) {
	api := newFakeAPI()
	ch := channel.New(4, "good_one", "")
	api.live[4] = false
	s, _ := newTestScheduler(t, testConfig(), api, ch)

	h := s.PlaybackHandler(ch)
	require.NoError(t, h(json.RawMessage(`{"type":"stream-up"}`)))

	require.Eventually(t, func() bool {
		return s.rescan.IsSet()
	}, 3*time.Second, 5*time.Millisecond)
	assert.False(t, ch.Online())
	assert.Zero(t, api.refreshCount("good_one"), "a dead probe skips the stream fetch")
}

func TestPlaybackOnlineChecksCollapse(t *testing.T) {
	api := newFakeAPI()
	ch := channel.New(4, "good_one", "")
	api.live[4] = true
	api.streams["good_one"] = &channel.Stream{ID: "b-4", GameID: "9", Game: "Game 9", DropsEnabled: true}

	cfg := testConfig()
	cfg.OnlineDelay = 60 * time.Millisecond
	s, _ := newTestScheduler(t, cfg, api, ch)

	h := s.PlaybackHandler(ch)
	require.NoError(t, h(json.RawMessage(`{"type":"stream-up"}`)))
	require.NoError(t, h(json.RawMessage(`{"type":"stream-up"}`)))

	require.Eventually(t, func() bool {
		return ch.Online()
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, api.refreshCount("good_one"), "concurrent checks for one channel collapse")
}

func TestPlaybackMalformed(t *testing.T) {
	api := newFakeAPI()
	ch := eligibleChannel(4, "good_one", "9")
	s, _ := newTestScheduler(t, testConfig(), api, ch)

	h := s.PlaybackHandler(ch)
	assert.Error(t, h(json.RawMessage(`{"type":12}`)))
	assert.True(t, ch.Online(), "a malformed event must not change channel state")
}

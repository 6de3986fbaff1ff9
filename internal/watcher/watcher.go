package watcher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"dropwatch/internal/channel"
	"dropwatch/internal/logging"
	"dropwatch/internal/metrics"
	"dropwatch/internal/store"
	"dropwatch/internal/syncx"
	"dropwatch/internal/twitch"
)

// Config contains watch scheduler configuration
type Config struct {
	// WatchInterval is the delay between watch time reports
	WatchInterval time.Duration
	// BonusCheckEvery is the number of watch ticks between bonus
	// claim checks. The first tick always checks.
	BonusCheckEvery int
	// OnlineDelay postpones the online check after a stream-up event
	// until stream data has populated
	OnlineDelay time.Duration
	// RefreshSpacing separates channel refreshes during a full pass
	RefreshSpacing time.Duration
	// RetryLong is the wait between picks while nothing is watchable
	RetryLong time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		WatchInterval:   59 * time.Second,
		BonusCheckEvery: 30,
		OnlineDelay:     10 * time.Second,
		RefreshSpacing:  500 * time.Millisecond,
		RetryLong:       2 * time.Minute,
	}
}

// TwitchAPI is the slice of the Twitch client the scheduler uses.
type TwitchAPI interface {
	SendWatch(ctx context.Context, ch *channel.Channel) error
	FetchStream(ctx context.Context, login string) (*channel.Stream, error)
	IsLive(ctx context.Context, channelID int64) (bool, error)
	FetchInventory(ctx context.Context) (*twitch.Inventory, error)
	FetchPointsContext(ctx context.Context, login string) (*twitch.PointsContext, error)
	ClaimPoints(ctx context.Context, channelID, claimID string) error
	ClaimDrop(ctx context.Context, instanceID string) (bool, error)
}

// ClaimRecorder persists successful claims. May be nil.
type ClaimRecorder interface {
	RecordClaim(store.Claim) error
}

// watchSession is one running watch loop.
type watchSession struct {
	channel *channel.Channel
	cancel  context.CancelFunc
	done    chan struct{}
}

// Scheduler decides which channel deserves watch time and runs the
// watch loop against it. Event handlers update channel and inventory
// state and wake the scheduler through the rescan gate; the scheduler
// alone starts and stops watch sessions.
type Scheduler struct {
	config   Config
	api      TwitchAPI
	channels *channel.Set
	recorder ClaimRecorder
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	rescan   *syncx.Gate
	interest *interestSet

	invMu     sync.Mutex
	inventory *twitch.Inventory

	ctxMu  sync.RWMutex
	runCtx context.Context

	checkMu  sync.Mutex
	checking map[int64]bool

	// session is owned by the Run loop goroutine.
	session    *watchSession
	watchingID atomic.Int64
}

// NewScheduler creates a scheduler over the given channel set.
func NewScheduler(config Config, api TwitchAPI, channels *channel.Set, recorder ClaimRecorder) *Scheduler {
	def := DefaultConfig()
	if config.WatchInterval <= 0 {
		config.WatchInterval = def.WatchInterval
	}
	if config.BonusCheckEvery <= 0 {
		config.BonusCheckEvery = def.BonusCheckEvery
	}
	if config.OnlineDelay <= 0 {
		config.OnlineDelay = def.OnlineDelay
	}
	if config.RefreshSpacing <= 0 {
		config.RefreshSpacing = def.RefreshSpacing
	}
	if config.RetryLong <= 0 {
		config.RetryLong = def.RetryLong
	}

	return &Scheduler{
		config:   config,
		api:      api,
		channels: channels,
		recorder: recorder,
		logger:   logging.Component("watcher"),
		metrics:  metrics.GetMetrics(),
		rescan:   syncx.NewGate(),
		interest: newInterestSet(),
		checking: make(map[int64]bool),
	}
}

// RequestRescan wakes the scheduler to re-evaluate the watch target.
func (s *Scheduler) RequestRescan() {
	s.rescan.Set()
}

// Watching returns a snapshot of the current watch target, or nil when
// nothing is being watched.
func (s *Scheduler) Watching() *channel.Snapshot {
	id := s.watchingID.Load()
	if id == 0 {
		return nil
	}
	ch, ok := s.channels.Get(id)
	if !ok {
		return nil
	}
	snap := ch.Snapshot()
	return &snap
}

// InterestGames returns the games currently worth watching.
func (s *Scheduler) InterestGames() []twitch.Game {
	return s.interest.Games()
}

// Run re-evaluates the watch target whenever the rescan gate is set
// and keeps exactly one watch session alive. It blocks until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctxMu.Lock()
	s.runCtx = ctx
	s.ctxMu.Unlock()

	s.logger.Info().
		Dur("watch_interval", s.config.WatchInterval).
		Int("channels", s.channels.Len()).
		Msg("Scheduler started")

	s.rescan.Set()
	refreshed := false

	for {
		select {
		case <-ctx.Done():
			s.stopWatching()
			return ctx.Err()
		case <-s.rescan.Done():
		}
		s.rescan.Clear()

		target := s.pickEligible()
		s.updateOnlineGauge()
		if target == nil {
			s.stopWatching()
			if !refreshed {
				refreshed = true
				s.RefreshChannels(ctx)
				continue
			}
			s.logger.Info().Dur("retry_in", s.config.RetryLong).Msg("Nothing to watch")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.rescan.Done():
			case <-time.After(s.config.RetryLong):
				s.rescan.Set()
			}
			continue
		}

		refreshed = false
		s.switchTo(ctx, target)
	}
}

// pickEligible returns the first channel in registration order that is
// live, has drops enabled, and plays a game of interest.
func (s *Scheduler) pickEligible() *channel.Channel {
	for _, ch := range s.channels.All() {
		if !ch.Online() || !ch.DropsEnabled() {
			continue
		}
		if !s.interest.Has(ch.GameID()) {
			continue
		}
		return ch
	}
	return nil
}

// switchTo moves the watch session to target. Re-picking the current
// target leaves the running session untouched.
func (s *Scheduler) switchTo(ctx context.Context, target *channel.Channel) {
	if s.session != nil && s.session.channel == target {
		return
	}
	s.stopWatching()

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &watchSession{
		channel: target,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.session = session
	s.watchingID.Store(target.ID())
	s.metrics.WatchSwitchesTotal.Inc()
	s.logger.Info().
		Str("channel", target.Login()).
		Str("game", target.Game()).
		Msg("Watching channel")

	go func() {
		defer close(session.done)
		s.watchLoop(sessionCtx, target)
	}()
}

// stopWatching tears down the current session and waits for its loop
// to exit, so two sessions never overlap.
func (s *Scheduler) stopWatching() {
	if s.session == nil {
		return
	}
	login := s.session.channel.Login()
	s.session.cancel()
	<-s.session.done
	s.session = nil
	s.watchingID.Store(0)
	s.logger.Info().Str("channel", login).Msg("Stopped watching")
}

// watchLoop reports watch time once per interval. The first tick and
// every BonusCheckEvery-th tick also check for a pending points bonus.
func (s *Scheduler) watchLoop(ctx context.Context, ch *channel.Channel) {
	tick := 0
	for {
		if err := s.api.SendWatch(ctx, ch); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Str("channel", ch.Login()).Msg("Failed to send watch event")
			}
		}
		if tick == 0 {
			s.checkBonus(ctx, ch)
		}
		tick = (tick + 1) % s.config.BonusCheckEvery

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.WatchInterval):
		}
	}
}

// checkBonus claims the channel's points bonus when one is pending.
func (s *Scheduler) checkBonus(ctx context.Context, ch *channel.Channel) {
	pc, err := s.api.FetchPointsContext(ctx, ch.Login())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("channel", ch.Login()).Msg("Failed to fetch points context")
		}
		return
	}
	if !pc.AvailableClaim() {
		return
	}
	if err := s.api.ClaimPoints(ctx, pc.ChannelID, pc.ClaimID); err != nil {
		s.logger.Warn().Err(err).Str("channel", ch.Login()).Msg("Failed to claim points bonus")
		return
	}
	s.recordClaim(store.Claim{Kind: "points_bonus", ID: pc.ClaimID, ChannelID: pc.ChannelID})
}

// RefreshChannels reloads the live state of every tracked channel,
// spacing requests apart, then wakes the scheduler.
func (s *Scheduler) RefreshChannels(ctx context.Context) {
	channels := s.channels.All()
	s.logger.Info().Int("channels", len(channels)).Msg("Refreshing channel states")

	for i, ch := range channels {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.RefreshSpacing):
			}
		}
		stream, err := s.api.FetchStream(ctx, ch.Login())
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", ch.Login()).Msg("Failed to refresh channel")
			continue
		}
		ch.SetStream(stream)
	}

	s.metrics.RefreshPassesTotal.Inc()
	s.rescan.Set()
}

// RefreshInventory refetches campaign progress, claims anything
// already pending, and recomputes the interest set.
func (s *Scheduler) RefreshInventory(ctx context.Context) error {
	inv, err := s.api.FetchInventory(ctx)
	if err != nil {
		return err
	}

	for _, pending := range inv.PendingClaims() {
		claimed, err := s.api.ClaimDrop(ctx, pending.Drop.Self.DropInstanceID)
		if err != nil {
			s.logger.Warn().Err(err).Str("drop", pending.Drop.Name).Msg("Failed to claim pending drop")
			continue
		}
		if claimed {
			pending.Drop.MarkClaimed()
			s.recordDropClaim(pending.Campaign, pending.Drop)
		}
	}

	s.invMu.Lock()
	s.inventory = inv
	s.invMu.Unlock()

	s.recomputeInterest()
	s.rescan.Set()
	return nil
}

// recomputeInterest rebuilds the interest set from held inventory.
func (s *Scheduler) recomputeInterest() {
	s.invMu.Lock()
	var games []twitch.Game
	if s.inventory != nil {
		games = s.inventory.InterestGames()
	}
	s.invMu.Unlock()

	s.interest.Replace(games)

	titles := make([]string, 0, len(games))
	for _, g := range games {
		titles = append(titles, g.Title())
	}
	s.logger.Info().Strs("games", titles).Msg("Interest set updated")
}

func (s *Scheduler) recordDropClaim(campaign *twitch.Campaign, drop *twitch.TimedDrop) {
	claim := store.Claim{
		Kind:    "drop",
		ID:      drop.Self.DropInstanceID,
		Benefit: strings.Join(drop.BenefitNames(), ", "),
	}
	s.logger.Info().
		Str("drop", drop.Name).
		Str("campaign", campaign.Name).
		Str("benefit", claim.Benefit).
		Msg("Drop claimed")
	s.recordClaim(claim)
}

func (s *Scheduler) recordClaim(claim store.Claim) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordClaim(claim); err != nil {
		s.logger.Warn().Err(err).Str("kind", claim.Kind).Str("id", claim.ID).Msg("Failed to record claim")
	}
}

func (s *Scheduler) updateOnlineGauge() {
	online := 0
	for _, ch := range s.channels.All() {
		if ch.Online() {
			online++
		}
	}
	s.metrics.ChannelsOnline.Set(float64(online))
}

// context returns the Run context for handler-spawned work.
func (s *Scheduler) context() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

package watcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dropwatch/internal/channel"
	"dropwatch/internal/pubsub"
	"dropwatch/internal/store"
	"dropwatch/internal/twitch"
)

// UserTopics returns the account-wide topics the scheduler listens on.
func (s *Scheduler) UserTopics(userID int64) []pubsub.Topic {
	return []pubsub.Topic{
		pubsub.NewTopic(twitch.TopicName(twitch.TopicUserDrops, userID), s.DropsHandler()),
		pubsub.NewTopic(twitch.TopicName(twitch.TopicUserPoints, userID), s.PointsHandler()),
	}
}

// ChannelTopics returns the per-channel topics for one broadcaster.
func (s *Scheduler) ChannelTopics(ch *channel.Channel) []pubsub.Topic {
	return []pubsub.Topic{
		pubsub.NewTopic(twitch.TopicName(twitch.TopicVideoPlayback, ch.ID()), s.PlaybackHandler(ch)),
	}
}

// DropsHandler handles drop progress and claim events for the account.
func (s *Scheduler) DropsHandler() pubsub.Handler {
	return func(payload json.RawMessage) error {
		var ev twitch.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to decode drops event: %w", err)
		}
		switch ev.Type {
		case twitch.EventDropProgress:
			var progress twitch.DropProgressEvent
			if err := json.Unmarshal(ev.Data, &progress); err != nil {
				return fmt.Errorf("failed to decode drop progress: %w", err)
			}
			s.onDropProgress(progress)
		case twitch.EventDropClaim:
			var claim twitch.DropClaimEvent
			if err := json.Unmarshal(ev.Data, &claim); err != nil {
				return fmt.Errorf("failed to decode drop claim: %w", err)
			}
			s.onDropClaim(claim)
		}
		return nil
	}
}

func (s *Scheduler) onDropProgress(ev twitch.DropProgressEvent) {
	s.invMu.Lock()
	defer s.invMu.Unlock()
	_, drop := s.findDropLocked(ev.DropID)
	if drop == nil {
		s.logger.Debug().Str("drop_id", ev.DropID).Msg("Progress for unknown drop")
		return
	}
	drop.UpdateProgress(ev.CurrentProgress)
	s.logger.Debug().
		Str("drop", drop.Name).
		Int("minutes", ev.CurrentProgress).
		Int("required", ev.RequiredProgress).
		Msg("Drop progress")
}

func (s *Scheduler) onDropClaim(ev twitch.DropClaimEvent) {
	s.invMu.Lock()
	campaign, drop := s.findDropLocked(ev.DropID)
	if drop != nil {
		drop.UpdateClaim(ev.DropInstanceID)
	}
	s.invMu.Unlock()
	if drop == nil {
		// The reward is still real, claim it anyway.
		s.logger.Warn().Str("drop_id", ev.DropID).Msg("Claim for unknown drop")
	}

	go s.claimDrop(ev.DropInstanceID, campaign, drop)
}

func (s *Scheduler) claimDrop(instanceID string, campaign *twitch.Campaign, drop *twitch.TimedDrop) {
	claimed, err := s.api.ClaimDrop(s.context(), instanceID)
	if err != nil {
		s.logger.Error().Err(err).Str("instance_id", instanceID).Msg("Failed to claim drop")
		return
	}
	if !claimed {
		s.logger.Warn().Str("instance_id", instanceID).Msg("Drop claim was not accepted")
		return
	}

	claim := store.Claim{Kind: "drop", ID: instanceID}
	s.invMu.Lock()
	if drop != nil {
		drop.MarkClaimed()
		claim.Benefit = strings.Join(drop.BenefitNames(), ", ")
	}
	s.invMu.Unlock()

	if campaign != nil && drop != nil {
		s.logger.Info().
			Str("drop", drop.Name).
			Str("campaign", campaign.Name).
			Str("benefit", claim.Benefit).
			Msg("Drop claimed")
	} else {
		s.logger.Info().Str("instance_id", instanceID).Msg("Drop claimed")
	}
	s.recordClaim(claim)
	s.recomputeInterest()
	s.rescan.Set()
}

func (s *Scheduler) findDropLocked(dropID string) (*twitch.Campaign, *twitch.TimedDrop) {
	if s.inventory == nil {
		return nil, nil
	}
	return s.inventory.FindDrop(dropID)
}

// PointsHandler handles community points events for the account.
func (s *Scheduler) PointsHandler() pubsub.Handler {
	return func(payload json.RawMessage) error {
		var ev twitch.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to decode points event: %w", err)
		}
		switch ev.Type {
		case twitch.EventPointsEarned:
			var earned twitch.PointsEarnedEvent
			if err := json.Unmarshal(ev.Data, &earned); err != nil {
				return fmt.Errorf("failed to decode points gain: %w", err)
			}
			s.metrics.PointsEarnedTotal.Add(float64(earned.PointGain.TotalPoints))
			s.logger.Info().
				Int("points", earned.PointGain.TotalPoints).
				Str("reason", earned.PointGain.ReasonCode).
				Int("balance", earned.Balance.Balance).
				Msg("Points earned")
		case twitch.EventClaimAvailable:
			var avail twitch.ClaimAvailableEvent
			if err := json.Unmarshal(ev.Data, &avail); err != nil {
				return fmt.Errorf("failed to decode claim notice: %w", err)
			}
			go s.claimBonus(avail.Claim.ChannelID, avail.Claim.ID)
		}
		return nil
	}
}

func (s *Scheduler) claimBonus(channelID, claimID string) {
	if err := s.api.ClaimPoints(s.context(), channelID, claimID); err != nil {
		s.logger.Warn().Err(err).Str("claim_id", claimID).Msg("Failed to claim points bonus")
		return
	}
	s.recordClaim(store.Claim{Kind: "points_bonus", ID: claimID, ChannelID: channelID})
}

// PlaybackHandler handles broadcast state events for one channel.
func (s *Scheduler) PlaybackHandler(ch *channel.Channel) pubsub.Handler {
	return func(payload json.RawMessage) error {
		var ev twitch.ViewCountEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("failed to decode playback event: %w", err)
		}
		switch ev.Type {
		case twitch.EventStreamDown:
			s.logger.Info().Str("channel", ch.Login()).Msg("Stream went down")
			ch.SetOffline()
			s.rescan.Set()
		case twitch.EventStreamUp:
			s.logger.Info().Str("channel", ch.Login()).Msg("Stream went up")
			go s.checkOnline(ch, s.config.OnlineDelay)
		case twitch.EventViewCount:
			// A viewer count for a channel believed offline means the
			// stored state is stale.
			if !ch.SetViewers(ev.Viewers) {
				go s.checkOnline(ch, 0)
			}
		}
		return nil
	}
}

// checkOnline refreshes a channel's live state, optionally after a
// delay so stream data has time to populate. Concurrent checks for the
// same channel collapse into one.
func (s *Scheduler) checkOnline(ch *channel.Channel, delay time.Duration) {
	s.checkMu.Lock()
	if s.checking[ch.ID()] {
		s.checkMu.Unlock()
		return
	}
	s.checking[ch.ID()] = true
	s.checkMu.Unlock()
	defer func() {
		s.checkMu.Lock()
		delete(s.checking, ch.ID())
		s.checkMu.Unlock()
	}()

	ctx := s.context()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	live, err := s.api.IsLive(ctx, ch.ID())
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", ch.Login()).Msg("Failed to check live state")
		return
	}
	if !live {
		ch.SetOffline()
		s.rescan.Set()
		return
	}

	stream, err := s.api.FetchStream(ctx, ch.Login())
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", ch.Login()).Msg("Failed to fetch stream")
		return
	}
	ch.SetStream(stream)
	s.rescan.Set()
}

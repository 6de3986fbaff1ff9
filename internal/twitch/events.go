package twitch

import (
	"encoding/json"
)

// Event types carried inside pubsub message payloads.
const (
	EventDropProgress   = "drop-progress"
	EventDropClaim      = "drop-claim"
	EventPointsEarned   = "points-earned"
	EventClaimAvailable = "claim-available"
	EventStreamUp       = "stream-up"
	EventStreamDown     = "stream-down"
	EventViewCount      = "viewcount"
)

// Event is the common {type, data} shell of pubsub payloads. Some
// video playback events put their fields next to type instead of
// under data, so the raw payload is kept for those.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DropProgressEvent reports watch progress for one drop.
type DropProgressEvent struct {
	DropID           string `json:"drop_id"`
	CurrentProgress  int    `json:"current_progress_min"`
	RequiredProgress int    `json:"required_progress_min"`
}

// DropClaimEvent announces a claimable reward instance for a drop.
type DropClaimEvent struct {
	DropID         string `json:"drop_id"`
	DropInstanceID string `json:"drop_instance_id"`
}

// PointsEarnedEvent reports a community points balance change.
type PointsEarnedEvent struct {
	ChannelID string `json:"channel_id"`
	PointGain struct {
		TotalPoints int    `json:"total_points"`
		ReasonCode  string `json:"reason_code"`
	} `json:"point_gain"`
	Balance struct {
		Balance int `json:"balance"`
	} `json:"balance"`
}

// ClaimAvailableEvent announces a pending points bonus.
type ClaimAvailableEvent struct {
	Claim struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	} `json:"claim"`
}

// ViewCountEvent carries the viewer count of a live broadcast. Unlike
// the other events its fields sit at the top level of the payload.
type ViewCountEvent struct {
	Type    string `json:"type"`
	Viewers int    `json:"viewers"`
}

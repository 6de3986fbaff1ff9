package twitch

import (
	"context"
	"fmt"
)

// FetchInventory loads the account's drop campaign progress.
func (c *Client) FetchInventory(ctx context.Context) (*Inventory, error) {
	var out struct {
		CurrentUser *struct {
			Inventory struct {
				DropCampaignsInProgress []Campaign `json:"dropCampaignsInProgress"`
			} `json:"inventory"`
		} `json:"currentUser"`
	}
	if err := c.gql(ctx, opInventory, &out); err != nil {
		return nil, err
	}
	if out.CurrentUser == nil {
		return nil, fmt.Errorf("inventory returned no user")
	}
	inv := &Inventory{Campaigns: out.CurrentUser.Inventory.DropCampaignsInProgress}
	c.logger.Debug().Int("campaigns", len(inv.Campaigns)).Msg("Inventory fetched")
	return inv, nil
}

// ClaimDrop redeems a drop reward instance and reports whether the
// drop ended up claimed. An instance already claimed elsewhere counts
// as claimed.
func (c *Client) ClaimDrop(ctx context.Context, instanceID string) (bool, error) {
	cacheKey := "drop:" + instanceID
	if c.claimed.Contains(cacheKey) {
		return true, nil
	}

	var out struct {
		ClaimDropRewards *struct {
			Status string `json:"status"`
		} `json:"claimDropRewards"`
	}
	op := opClaimDrop.WithVariables(map[string]any{
		"input": map[string]any{"dropInstanceID": instanceID},
	})
	if err := c.gql(ctx, op, &out); err != nil {
		return false, err
	}
	if out.ClaimDropRewards == nil {
		return false, nil
	}

	switch out.ClaimDropRewards.Status {
	case "ELIGIBLE_FOR_ALL":
		c.claimed.Add(cacheKey, true)
		c.metrics.ClaimsTotal.WithLabelValues("drop").Inc()
		return true, nil
	case "DROP_INSTANCE_ALREADY_CLAIMED":
		c.claimed.Add(cacheKey, true)
		return true, nil
	}
	c.logger.Warn().
		Str("status", out.ClaimDropRewards.Status).
		Str("instance_id", instanceID).
		Msg("Unexpected drop claim status")
	return false, nil
}

// PointsContext is the community points state of one channel for the
// account.
type PointsContext struct {
	ChannelID string
	Balance   int
	ClaimID   string
}

// AvailableClaim reports whether a bonus claim is pending.
func (p *PointsContext) AvailableClaim() bool {
	return p.ClaimID != ""
}

// FetchPointsContext loads the community points state for a channel.
func (c *Client) FetchPointsContext(ctx context.Context, login string) (*PointsContext, error) {
	var out struct {
		Community *struct {
			Channel struct {
				ID   string `json:"id"`
				Self struct {
					CommunityPoints struct {
						Balance        int `json:"balance"`
						AvailableClaim *struct {
							ID string `json:"id"`
						} `json:"availableClaim"`
					} `json:"communityPoints"`
				} `json:"self"`
			} `json:"channel"`
		} `json:"community"`
	}
	op := opChannelPointsContext.WithVariables(map[string]any{"channelLogin": login})
	if err := c.gql(ctx, op, &out); err != nil {
		return nil, err
	}
	if out.Community == nil {
		return nil, fmt.Errorf("unknown community %q", login)
	}

	points := out.Community.Channel.Self.CommunityPoints
	pc := &PointsContext{
		ChannelID: out.Community.Channel.ID,
		Balance:   points.Balance,
	}
	if points.AvailableClaim != nil {
		pc.ClaimID = points.AvailableClaim.ID
	}
	return pc, nil
}

// ClaimPoints redeems a pending points bonus. Recently claimed ids are
// suppressed so the pushed event and the periodic check cannot double
// claim.
func (c *Client) ClaimPoints(ctx context.Context, channelID, claimID string) error {
	cacheKey := "points:" + claimID
	if c.claimed.Contains(cacheKey) {
		return nil
	}

	op := opClaimCommunityPoints.WithVariables(map[string]any{
		"input": map[string]any{"channelID": channelID, "claimID": claimID},
	})
	if err := c.gql(ctx, op, nil); err != nil {
		return err
	}
	c.claimed.Add(cacheKey, true)
	c.metrics.ClaimsTotal.WithLabelValues("points_bonus").Inc()
	c.logger.Info().Str("channel_id", channelID).Str("claim_id", claimID).Msg("Points bonus claimed")
	return nil
}

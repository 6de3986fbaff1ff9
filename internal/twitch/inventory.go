package twitch

import (
	"time"
)

// Campaign statuses reported by the inventory query.
const (
	CampaignActive   = "ACTIVE"
	CampaignUpcoming = "UPCOMING"
	CampaignExpired  = "EXPIRED"
)

// Game identifies the directory a campaign belongs to.
type Game struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Title returns the presentation name of the game.
func (g Game) Title() string {
	if g.DisplayName != "" {
		return g.DisplayName
	}
	return g.Name
}

// BenefitEdge names one reward of a drop.
type BenefitEdge struct {
	Benefit struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"benefit"`
}

// DropSelf is the account-specific progress of a drop.
type DropSelf struct {
	CurrentMinutes int    `json:"currentMinutesWatched"`
	IsClaimed      bool   `json:"isClaimed"`
	DropInstanceID string `json:"dropInstanceID"`
}

// TimedDrop is one watch-time reward inside a campaign.
type TimedDrop struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	StartAt         time.Time     `json:"startAt"`
	EndAt           time.Time     `json:"endAt"`
	RequiredMinutes int           `json:"requiredMinutesWatched"`
	BenefitEdges    []BenefitEdge `json:"benefitEdges"`
	Self            DropSelf      `json:"self"`
}

// CanClaim reports whether the drop has an unclaimed reward instance.
func (d *TimedDrop) CanClaim() bool {
	return !d.Self.IsClaimed && d.Self.DropInstanceID != ""
}

// Remaining returns the minutes left to watch.
func (d *TimedDrop) Remaining() int {
	left := d.RequiredMinutes - d.Self.CurrentMinutes
	if left < 0 {
		return 0
	}
	return left
}

func (d *TimedDrop) canEarnAt(now time.Time) bool {
	return !d.Self.IsClaimed &&
		d.Self.CurrentMinutes < d.RequiredMinutes &&
		now.After(d.StartAt) && now.Before(d.EndAt)
}

// CanEarn reports whether watch time currently advances this drop.
func (d *TimedDrop) CanEarn() bool {
	return d.canEarnAt(time.Now().UTC())
}

// UpdateProgress records pushed progress for the drop.
func (d *TimedDrop) UpdateProgress(minutes int) {
	d.Self.CurrentMinutes = minutes
}

// UpdateClaim records the reward instance id announced by a claim event.
func (d *TimedDrop) UpdateClaim(instanceID string) {
	d.Self.DropInstanceID = instanceID
}

// MarkClaimed finalizes the drop after a successful claim.
func (d *TimedDrop) MarkClaimed() {
	d.Self.IsClaimed = true
	d.Self.CurrentMinutes = d.RequiredMinutes
}

// BenefitNames lists the reward names of the drop.
func (d *TimedDrop) BenefitNames() []string {
	names := make([]string, 0, len(d.BenefitEdges))
	for _, edge := range d.BenefitEdges {
		names = append(names, edge.Benefit.Name)
	}
	return names
}

// Campaign is one drop campaign in progress for the account.
type Campaign struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Game       Game        `json:"game"`
	Status     string      `json:"status"`
	StartAt    time.Time   `json:"startAt"`
	EndAt      time.Time   `json:"endAt"`
	TimedDrops []TimedDrop `json:"timeBasedDrops"`
}

// Upcoming reports whether the campaign has not started yet.
func (c *Campaign) Upcoming() bool {
	return c.Status == CampaignUpcoming
}

// CanEarn reports whether any drop of the campaign can progress.
// Upcoming campaigns never earn.
func (c *Campaign) CanEarn() bool {
	if c.Upcoming() {
		return false
	}
	for i := range c.TimedDrops {
		if c.TimedDrops[i].CanEarn() {
			return true
		}
	}
	return false
}

// Inventory is the account's drop campaign progress.
type Inventory struct {
	Campaigns []Campaign
}

// PendingClaim pairs a claimable drop with its campaign.
type PendingClaim struct {
	Campaign *Campaign
	Drop     *TimedDrop
}

// InterestGames returns the games with at least one earnable drop, in
// first-seen order.
func (inv *Inventory) InterestGames() []Game {
	var games []Game
	seen := make(map[string]bool)
	for i := range inv.Campaigns {
		c := &inv.Campaigns[i]
		if !c.CanEarn() {
			continue
		}
		if seen[c.Game.ID] {
			continue
		}
		seen[c.Game.ID] = true
		games = append(games, c.Game)
	}
	return games
}

// PendingClaims returns the drops claimable right now.
func (inv *Inventory) PendingClaims() []PendingClaim {
	var claims []PendingClaim
	for i := range inv.Campaigns {
		c := &inv.Campaigns[i]
		for j := range c.TimedDrops {
			d := &c.TimedDrops[j]
			if d.CanClaim() {
				claims = append(claims, PendingClaim{Campaign: c, Drop: d})
			}
		}
	}
	return claims
}

// FindDrop locates a drop by id across all campaigns.
func (inv *Inventory) FindDrop(dropID string) (*Campaign, *TimedDrop) {
	for i := range inv.Campaigns {
		c := &inv.Campaigns[i]
		for j := range c.TimedDrops {
			if c.TimedDrops[j].ID == dropID {
				return c, &c.TimedDrops[j]
			}
		}
	}
	return nil, nil
}

// Package plan defines the purchasable catalog: subscription plans and
// one-off token packages.
package plan

import (
	"strings"
	"time"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Plan is a subscription tier. Activating it opens a window of
// DurationDays with a daily quota and a one-off bonus.
type Plan struct {
	types.Entity
	ID                 id.PlanID   `json:"id"`
	Name               string      `json:"name"`
	Slug               string      `json:"slug"`
	Description        string      `json:"description,omitempty"`
	Price              types.Money `json:"price"`
	DurationDays       int         `json:"duration_days"`
	DailyTokenQuota    int64       `json:"daily_token_quota"`
	BonusTokenAmount   int64       `json:"bonus_token_amount"`
	ReferralCommission types.Money `json:"referral_commission"`
	Status             Status      `json:"status"`
}

// WindowEnd is the end of a window that starts at start.
func (p *Plan) WindowEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, p.DurationDays)
}

// Purchasable reports whether new orders may reference the plan.
func (p *Plan) Purchasable() bool {
	return p.Status == StatusActive
}

// Package is a one-off top-up that credits Tokens to the purchased bucket.
type Package struct {
	types.Entity
	ID     id.PackageID `json:"id"`
	Name   string       `json:"name"`
	Tokens int64        `json:"tokens"`
	Price  types.Money  `json:"price"`
	Status Status       `json:"status"`
}

// Purchasable reports whether the package can be bought.
func (p *Package) Purchasable() bool {
	return p.Status == StatusActive
}

// Slugify lowercases name and joins its words with dashes.
func Slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

package plan

import "errors"

var (
	errNoName      = errors.New("name is required")
	errBadDuration = errors.New("duration_days must be positive")
	errNegQuota    = errors.New("daily_token_quota must not be negative")
	errNegBonus    = errors.New("bonus_token_amount must not be negative")
	errBadPrice    = errors.New("price must be positive")
	errBadTokens   = errors.New("tokens must be positive")
)

// Validate checks the plan for values that would corrupt a window.
func (p *Plan) Validate() error {
	switch {
	case p.Name == "":
		return errNoName
	case p.DurationDays <= 0:
		return errBadDuration
	case p.DailyTokenQuota < 0:
		return errNegQuota
	case p.BonusTokenAmount < 0:
		return errNegBonus
	case !p.Price.IsPositive():
		return errBadPrice
	}
	return nil
}

// Validate checks the package.
func (p *Package) Validate() error {
	switch {
	case p.Name == "":
		return errNoName
	case p.Tokens <= 0:
		return errBadTokens
	case !p.Price.IsPositive():
		return errBadPrice
	}
	return nil
}

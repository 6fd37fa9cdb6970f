package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated = "account.created"

	// Subscription actions
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionRenewed   = "subscription.renewed"
	ActionSubscriptionExpired   = "subscription.expired"
	ActionDailyRefresh          = "subscription.daily_refresh"

	// Balance actions
	ActionTokensDeducted = "tokens.deducted"
	ActionTokensCredited = "tokens.credited"

	// Referral actions
	ActionMilestoneReached = "referral.milestone_reached"

	// Payment actions
	ActionPaymentCompleted = "payment.completed"
	ActionPaymentFailed    = "payment.failed"
	ActionWebhookReceived  = "webhook.received"
	ActionWebhookRejected  = "webhook.rejected"
)

// Resource constants for audit events.
const (
	ResourceAccount      = "account"
	ResourceSubscription = "subscription"
	ResourceBalance      = "balance"
	ResourceReferral     = "referral"
	ResourcePayment      = "payment"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategoryAccount      = "account"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryReferral     = "referral"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

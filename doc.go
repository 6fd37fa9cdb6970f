// Package tokenvault provides a token ledger and subscription lifecycle
// engine for Go applications.
//
// Tokenvault is a library, not a service. It keeps four token buckets per
// account and settles payments from PhonePe and Razorpay into them:
//
//   - Daily tokens refilled once per calendar day while a plan is active
//   - Purchased tokens bought as one-off packages
//   - Bonus tokens granted with each plan activation
//   - Prize tokens paid out by the referral milestone engine
//
// All four expire with the subscription window.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/tokenvault"
//	    "github.com/xraph/tokenvault/payment/razorpay"
//	    "github.com/xraph/tokenvault/store/memory"
//	)
//
//	v := tokenvault.New(memory.New(),
//	    tokenvault.WithGateway(razorpay.New(razorpay.Config{
//	        KeyID:         keyID,
//	        KeySecret:     keySecret,
//	        WebhookSecret: webhookSecret,
//	    })),
//	)
//	if err := v.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Stop()
//
// # Deductions
//
// Deduct consumes tokens in a fixed order: daily, purchased, bonus, prize.
// A request larger than the effective balance fails with
// ErrInsufficientTokens and leaves every bucket untouched:
//
//	res, err := v.Deduct(ctx, accountID, 150, "image generation")
//	if errors.Is(err, tokenvault.ErrInsufficientTokens) {
//	    // ask the user to top up
//	}
//
// # Payments
//
// CreateSubscriptionOrder and CreateTokenPurchase open a checkout at the
// gateway. HandleWebhook verifies and acknowledges gateway notifications,
// then settles them in the background through ProcessEvent, the single
// idempotent handler that VerifyPayment and ReconcilePending also use.
// A second delivery of the same outcome is reported as AlreadyProcessed.
//
// # Lifecycle
//
// RefreshDaily and ExpireLapsed are meant to be run by a scheduler, for
// example the tokenvault CLI or the WithMaintenance worker. Both are safe to
// run repeatedly.
//
// # Plugins
//
// Implement any of the hook interfaces in the plugin package to observe
// activations, deductions, credits, milestones and payments. The
// audit_hook and observability packages are ready-made plugins.
package tokenvault

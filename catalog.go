package tokenvault

import (
	"context"
	"fmt"

	"github.com/xraph/tokenvault/id"
	"github.com/xraph/tokenvault/plan"
	"github.com/xraph/tokenvault/types"
)

// ──────────────────────────────────────────────────
// Plan management
// ──────────────────────────────────────────────────

// CreatePlan validates and stores a subscription plan. A missing slug is
// derived from the name.
func (v *Vault) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Slug == "" {
		p.Slug = plan.Slugify(p.Name)
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.Entity = types.NewEntityAt(v.clock())
	}
	if err := p.Validate(); err != nil {
		return ValidationError{Field: "plan", Message: err.Error()}
	}

	if err := v.store.CreatePlan(ctx, p); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	v.logger.Info("plan created",
		"plan_id", p.ID.String(),
		"slug", p.Slug,
		"duration_days", p.DurationDays,
		"daily_quota", p.DailyTokenQuota,
	)
	return nil
}

// GetPlan retrieves a plan by ID.
func (v *Vault) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return v.store.GetPlan(ctx, planID)
}

// GetPlanBySlug retrieves a plan by its slug.
func (v *Vault) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return v.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists plans.
func (v *Vault) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return v.store.ListPlans(ctx, opts)
}

// ArchivePlan stops new orders for a plan. Existing windows are untouched.
func (v *Vault) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	p, err := v.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	p.Status = plan.StatusArchived
	p.TouchAt(v.clock())
	return v.store.UpdatePlan(ctx, p)
}

// ──────────────────────────────────────────────────
// Token packages
// ──────────────────────────────────────────────────

// CreatePackage validates and stores a token package.
func (v *Vault) CreatePackage(ctx context.Context, p *plan.Package) error {
	if p.ID.IsNil() {
		p.ID = id.NewPackageID()
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}
	if p.CreatedAt.IsZero() {
		p.Entity = types.NewEntityAt(v.clock())
	}
	if err := p.Validate(); err != nil {
		return ValidationError{Field: "package", Message: err.Error()}
	}

	if err := v.store.CreatePackage(ctx, p); err != nil {
		return fmt.Errorf("create package: %w", err)
	}

	v.logger.Info("token package created",
		"package_id", p.ID.String(),
		"tokens", p.Tokens,
		"price", p.Price.String(),
	)
	return nil
}

// GetPackage retrieves a token package by ID.
func (v *Vault) GetPackage(ctx context.Context, packageID id.PackageID) (*plan.Package, error) {
	return v.store.GetPackage(ctx, packageID)
}

// ListPackages lists token packages.
func (v *Vault) ListPackages(ctx context.Context, opts plan.ListOpts) ([]*plan.Package, error) {
	return v.store.ListPackages(ctx, opts)
}

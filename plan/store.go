package plan

import (
	"context"

	"github.com/xraph/tokenvault/id"
)

type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetBySlug(ctx context.Context, slug string) (*Plan, error)
	List(ctx context.Context, opts ListOpts) ([]*Plan, error)
	Update(ctx context.Context, p *Plan) error
}

// PackageStore persists token packages.
type PackageStore interface {
	CreatePackage(ctx context.Context, p *Package) error
	GetPackage(ctx context.Context, packageID id.PackageID) (*Package, error)
	ListPackages(ctx context.Context, opts ListOpts) ([]*Package, error)
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

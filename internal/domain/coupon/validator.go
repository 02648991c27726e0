package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator checks whether a coupon code can currently be used.
type Validator interface {
	Validate(ctx context.Context, code string) (*Coupon, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon and checks, in order, that it exists, that its
// validity window [ValidFrom, ValidTo) contains now and that it still has uses
// left. It never consumes a use; redemption happens once an order exists.
func (v *RepoValidator) Validate(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, err
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrNotYetValid
	}
	if c.ValidTo != nil && !now.Before(*c.ValidTo) {
		return nil, ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, ErrUsageLimitReached
	}

	return c, nil
}

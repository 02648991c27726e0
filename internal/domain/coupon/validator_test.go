package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon     *Coupon
	err        error
	lookupCode string
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookupCode = code
	return m.coupon, m.err
}

func (m *mockCouponRepo) Redeem(_ context.Context, _ Redemption) error {
	return nil
}

func intPtr(v int) *int { return &v }

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name    string
		repo    *mockCouponRepo
		code    string
		wantErr error
	}{
		{
			name: "valid code",
			repo: &mockCouponRepo{coupon: &Coupon{Code: "WINTER10", DiscountType: DiscountPercentage, Value: decimal.NewFromInt(10)}},
			code: "WINTER10",
		},
		{
			name:    "unknown code",
			repo:    &mockCouponRepo{err: ErrNotFound},
			code:    "BOGUS",
			wantErr: ErrNotFound,
		},
		{
			name:    "blank code is not looked up",
			repo:    &mockCouponRepo{},
			code:    "   ",
			wantErr: ErrNotFound,
		},
		{
			name:    "window not open yet",
			repo:    &mockCouponRepo{coupon: &Coupon{Code: "SOON", ValidFrom: &future}},
			code:    "SOON",
			wantErr: ErrNotYetValid,
		},
		{
			name:    "expired",
			repo:    &mockCouponRepo{coupon: &Coupon{Code: "OLD", ValidTo: &past}},
			code:    "OLD",
			wantErr: ErrExpired,
		},
		{
			name:    "window end is exclusive",
			repo:    &mockCouponRepo{coupon: &Coupon{Code: "EDGE", ValidTo: &fixedNow}},
			code:    "EDGE",
			wantErr: ErrExpired,
		},
		{
			name: "window start is inclusive",
			repo: &mockCouponRepo{coupon: &Coupon{Code: "EDGE", ValidFrom: &fixedNow, ValidTo: &future}},
			code: "EDGE",
		},
		{
			name:    "usage limit reached",
			repo:    &mockCouponRepo{coupon: &Coupon{Code: "ONCE", UsageLimit: intPtr(1), UsedCount: 1}},
			code:    "ONCE",
			wantErr: ErrUsageLimitReached,
		},
		{
			name: "usage limit not reached",
			repo: &mockCouponRepo{coupon: &Coupon{Code: "TWICE", UsageLimit: intPtr(2), UsedCount: 1}},
			code: "TWICE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo)
			v.now = func() time.Time { return fixedNow }

			c, err := v.Validate(context.Background(), tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidCoupon)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
		})
	}
}

func TestRepoValidator_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{Code: "WINTER10"}}
	v := NewRepoValidator(repo)

	_, err := v.Validate(context.Background(), "  winter10 ")
	require.NoError(t, err)
	assert.Equal(t, "WINTER10", repo.lookupCode)
}

func TestRepoValidator_StorageError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("connection reset")}
	v := NewRepoValidator(repo)

	_, err := v.Validate(context.Background(), "WINTER10")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestReasonOf(t *testing.T) {
	reason, ok := ReasonOf(errors.Wrap(ErrExpired, "validate"))
	require.True(t, ok)
	assert.Equal(t, ReasonExpired, reason)

	_, ok = ReasonOf(errors.New("other"))
	assert.False(t, ok)

	assert.Equal(t, "coupon usage limit reached", ErrUsageLimitReached.Error())
}

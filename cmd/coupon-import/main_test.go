package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/heating-shop/internal/domain/coupon"
)

func TestParseLine(t *testing.T) {
	t.Run("CodeOnly", func(t *testing.T) {
		c, err := parseLine(" spring ")
		require.NoError(t, err)
		assert.Equal(t, "SPRING", c.Code)
		assert.Equal(t, coupon.DiscountPercentage, c.DiscountType)
		assert.True(t, decimal.NewFromInt(10).Equal(c.Value))
		assert.Nil(t, c.UsageLimit)
		assert.NotEmpty(t, c.ID)
	})

	t.Run("FixedWithLimit", func(t *testing.T) {
		c, err := parseLine("RAD20,fixed,2000,50")
		require.NoError(t, err)
		assert.Equal(t, coupon.DiscountFixed, c.DiscountType)
		assert.True(t, decimal.NewFromInt(2000).Equal(c.Value))
		require.NotNil(t, c.UsageLimit)
		assert.Equal(t, 50, *c.UsageLimit)
		assert.Equal(t, "20.00 off your order", c.Description)
	})

	t.Run("Percentage", func(t *testing.T) {
		c, err := parseLine("HALF,percentage,50")
		require.NoError(t, err)
		assert.Equal(t, "50% off your order", c.Description)
	})

	for _, line := range []string{
		"AB",
		"CODE,fixed",
		"CODE,bogus,10",
		"CODE,percentage,150",
		"CODE,fixed,-1",
		"CODE,fixed,abc",
		"CODE,fixed,10,-3",
		"CODE,fixed,10,1,extra",
	} {
		t.Run("Invalid/"+line, func(t *testing.T) {
			_, err := parseLine(line)
			assert.Error(t, err)
		})
	}
}

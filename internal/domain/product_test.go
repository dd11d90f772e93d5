package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestProduct(t *testing.T, price string) (*Product, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	p, err := NewProduct("Widget", dec(price), "acme-1", WithClock(clock), CreatedBy("alice"))
	require.NoError(t, err)
	return p, clock
}

func TestNewProduct(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	assert.NotEmpty(t, p.ID())
	assert.Equal(t, "acme-1", p.TenantID())
	assert.Equal(t, "Widget", p.Name())
	assert.True(t, p.Price().Equal(dec("10")))
	assert.True(t, p.IsActive())
	assert.Equal(t, 0, p.Stock())
	assert.Equal(t, testEpoch, p.CreatedAt())
	assert.Equal(t, "alice", p.CreatedBy())
	assert.Nil(t, p.UpdatedAt())
	assert.True(t, p.IsValid())
}

func TestNewProduct_Validation(t *testing.T) {
	tests := []struct {
		name     string
		product  string
		price    string
		tenantID string
	}{
		{"short name", "W", "10", "acme-1"},
		{"blank name", "   ", "10", "acme-1"},
		{"bad name charset", "Widget<script>", "10", "acme-1"},
		{"zero price", "Widget", "0", "acme-1"},
		{"negative price", "Widget", "-1", "acme-1"},
		{"price above ceiling", "Widget", "1000000.00", "acme-1"},
		{"too many decimals", "Widget", "9.999", "acme-1"},
		{"blank tenant", "Widget", "10", " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProduct(tt.product, dec(tt.price), tt.tenantID)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidArgument)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestNewProduct_CollapsesWhitespace(t *testing.T) {
	p, err := NewProduct("  Deluxe   Widget ", dec("999999.99"), "acme-1")
	require.NoError(t, err)

	assert.Equal(t, "Deluxe Widget", p.Name())
}

func TestUpdatePrice_RatioGuard(t *testing.T) {
	p, clock := newTestProduct(t, "10.00")

	err := p.UpdatePrice(dec("60.00"), "bob")
	assert.ErrorIs(t, err, ErrPriceChangeTooLarge)
	assert.ErrorIs(t, err, ErrBusinessRule)
	assert.True(t, p.Price().Equal(dec("10")))
	assert.Nil(t, p.UpdatedAt())

	clock.Advance(time.Minute)
	require.NoError(t, p.UpdatePrice(dec("50.00"), "bob"))
	assert.True(t, p.Price().Equal(dec("50")))
	assert.Equal(t, "bob", p.UpdatedBy())
	require.NotNil(t, p.UpdatedAt())
	assert.Equal(t, testEpoch.Add(time.Minute), *p.UpdatedAt())
}

func TestUpdatePrice_Bounds(t *testing.T) {
	tests := []struct {
		name  string
		price string
		ok    bool
	}{
		{"exactly a tenth", "10.00", true},
		{"below a tenth", "9.99", false},
		{"exactly five times", "500.00", true},
		{"above five times", "500.01", false},
		{"unchanged", "100.00", true},
		{"zero", "0", false},
		{"negative", "-5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProduct(t, "100.00")
			err := p.UpdatePrice(dec(tt.price), "bob")
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, p.Price().Equal(dec(tt.price)))
				return
			}
			assert.Error(t, err)
			assert.True(t, p.Price().Equal(dec("100")))
		})
	}
}

func TestUpdatePrice_Ceiling(t *testing.T) {
	p, _ := newTestProduct(t, "999999.00")

	err := p.UpdatePrice(dec("1000000.00"), "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	require.NoError(t, p.UpdatePrice(MaxPrice, "bob"))
}

func TestApplyDiscount(t *testing.T) {
	p, _ := newTestProduct(t, "19.99")

	require.NoError(t, p.ApplyDiscount(dec("15"), "bob"))
	assert.Equal(t, "16.99", p.Price().StringFixed(2))

	assert.ErrorIs(t, p.ApplyDiscount(dec("-1"), "bob"), ErrInvalidArgument)
	assert.ErrorIs(t, p.ApplyDiscount(dec("100.5"), "bob"), ErrInvalidArgument)
	assert.Equal(t, "16.99", p.Price().StringFixed(2))
}

func TestApplyDiscount_GoesThroughPriceRules(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	// 95% off is a drop below a tenth of the price.
	assert.ErrorIs(t, p.ApplyDiscount(dec("95"), "bob"), ErrPriceChangeTooLarge)
	// 100% off makes the price zero.
	assert.ErrorIs(t, p.ApplyDiscount(dec("100"), "bob"), ErrInvalidArgument)
	assert.True(t, p.Price().Equal(dec("10")))

	require.NoError(t, p.ApplyDiscount(decimal.Zero, "bob"))
	assert.True(t, p.Price().Equal(dec("10")))
}

func TestAdjustStock(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	mv, err := p.AdjustStock(25, "bob", "initial load")
	require.NoError(t, err)
	assert.Equal(t, StockMovement{
		ProductID: p.ID(), Delta: 25, Before: 0, After: 25, Reason: "initial load", By: "bob", At: testEpoch,
	}, mv)

	_, err = p.AdjustStock(-26, "bob", "shrinkage")
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 25, p.Stock())
}

func TestAdjustStock_ZeroIsNoOp(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	mv, err := p.AdjustStock(0, "bob", "noop")
	require.NoError(t, err)
	assert.Equal(t, 0, mv.Delta)
	assert.Nil(t, p.UpdatedAt())
}

func TestAdjustStock_RoundTrip(t *testing.T) {
	for _, d := range []int{1, 7, 1000, MaxStockQuantity} {
		p, _ := newTestProduct(t, "10.00")
		_, err := p.AdjustStock(d, "bob", "in")
		require.NoError(t, err)
		_, err = p.AdjustStock(-d, "bob", "out")
		require.NoError(t, err)
		assert.Equal(t, 0, p.Stock(), "delta %d", d)
	}
}

func TestAdjustStock_Ceiling(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")
	_, err := p.AdjustStock(MaxStockQuantity, "bob", "fill")
	require.NoError(t, err)

	_, err = p.AdjustStock(1, "bob", "overflow")
	assert.ErrorIs(t, err, ErrStockCeilingExceeded)
	assert.Equal(t, MaxStockQuantity, p.Stock())
}

func TestReserveAndRestock(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	_, err := p.Restock(0, "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = p.ReserveStock(-2, "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = p.Restock(10, "bob")
	require.NoError(t, err)
	mv, err := p.ReserveStock(4, "bob")
	require.NoError(t, err)
	assert.Equal(t, -4, mv.Delta)
	assert.Equal(t, "reservation", mv.Reason)
	assert.Equal(t, 6, p.Stock())

	_, err = p.ReserveStock(7, "bob")
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 6, p.Stock())
}

func TestActivateDeactivate(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")
	require.NoError(t, p.MarkFeatured("bob"))

	p.Deactivate("bob")
	assert.False(t, p.IsActive())
	assert.False(t, p.IsFeatured())

	stamp := p.UpdatedAt()
	p.Deactivate("carol")
	assert.Equal(t, "bob", p.UpdatedBy())
	assert.Equal(t, stamp, p.UpdatedAt())

	assert.Error(t, p.MarkFeatured("bob"))
	var serr *StateError
	assert.ErrorAs(t, p.MarkFeatured("bob"), &serr)

	require.NoError(t, p.Activate("bob"))
	assert.True(t, p.IsActive())
	require.NoError(t, p.Activate("bob"))
}

func TestActivate_DeletedProduct(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")
	p.Deactivate("bob")
	p.MarkDeleted("bob")

	assert.ErrorIs(t, p.Activate("bob"), ErrInvalidState)
	assert.False(t, p.IsActive())
}

func TestUpdateTags(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	require.NoError(t, p.UpdateTags([]string{" Outdoor ", "garden", "OUTDOOR", "", "bulk  item"}, "bob"))
	assert.Equal(t, []string{"outdoor", "garden", "bulk item"}, p.Tags())
	assert.True(t, p.HasTag("Garden"))

	err := p.UpdateTags([]string{"fine", "not/fine"}, "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, []string{"outdoor", "garden", "bulk item"}, p.Tags())
}

func TestUpdateTags_Limit(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	tags := make([]string, 0, MaxTags+1)
	for i := 0; i <= MaxTags; i++ {
		tags = append(tags, string(rune('a'+i)))
	}
	assert.ErrorIs(t, p.UpdateTags(tags, "bob"), ErrInvalidArgument)
	assert.Empty(t, p.Tags())

	require.NoError(t, p.UpdateTags(tags[:MaxTags], "bob"))
	assert.Len(t, p.Tags(), MaxTags)
}

func TestRecordView_DoesNotStampUpdate(t *testing.T) {
	p, clock := newTestProduct(t, "10.00")
	clock.Advance(time.Hour)

	p.RecordView()
	p.RecordView()

	assert.Equal(t, int64(2), p.ViewCount())
	require.NotNil(t, p.LastViewedAt())
	assert.Equal(t, testEpoch.Add(time.Hour), *p.LastViewedAt())
	assert.Nil(t, p.UpdatedAt())
}

func TestUpdateSKU(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	require.NoError(t, p.UpdateSKU(" wid-001_a ", "bob"))
	assert.Equal(t, "WID-001_A", p.SKU())

	assert.ErrorIs(t, p.UpdateSKU("wid 001", "bob"), ErrInvalidArgument)
	assert.Equal(t, "WID-001_A", p.SKU())

	require.NoError(t, p.UpdateSKU("", "bob"))
	assert.Empty(t, p.SKU())
}

func TestSetStockThresholds(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")
	five, ten := 5, 10

	require.NoError(t, p.SetStockThresholds(5, &ten, "bob"))
	assert.True(t, p.IsLowStock())
	assert.Equal(t, &ten, p.MaxStock())

	assert.ErrorIs(t, p.SetStockThresholds(11, &ten, "bob"), ErrInvalidArgument)
	assert.ErrorIs(t, p.SetStockThresholds(-1, nil, "bob"), ErrInvalidArgument)
	assert.Equal(t, five, p.MinStock())

	require.NoError(t, p.SetStockThresholds(100, nil, "bob"))
	assert.Nil(t, p.MaxStock())

	_, err := p.Restock(200, "bob")
	require.NoError(t, err)
	assert.False(t, p.IsLowStock())
	assert.False(t, p.IsOverstocked())
}

func TestUpdateDetails_AllOrNothing(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	long := make([]byte, MaxDescriptionLength+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, p.UpdateDetails("Gadget", string(long), "bob"), ErrInvalidArgument)
	assert.Equal(t, "Widget", p.Name())

	require.NoError(t, p.UpdateDetails("Gadget", "A useful gadget.", "bob"))
	assert.Equal(t, "Gadget", p.Name())
	assert.Equal(t, "A useful gadget.", p.Description())
}

func TestSetWeightAndDimensions(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")

	require.NoError(t, p.SetWeight(decimal.NewNullDecimal(dec("1.25")), "bob"))
	assert.True(t, p.Weight().Valid)
	assert.ErrorIs(t, p.SetWeight(decimal.NewNullDecimal(dec("-1")), "bob"), ErrInvalidArgument)
	require.NoError(t, p.SetWeight(decimal.NullDecimal{}, "bob"))
	assert.False(t, p.Weight().Valid)

	d := &Dimensions{Length: dec("10"), Width: dec("5"), Height: dec("0"), Unit: "cm"}
	assert.ErrorIs(t, p.SetDimensions(d, "bob"), ErrInvalidArgument)
	d.Height = dec("2")
	require.NoError(t, p.SetDimensions(d, "bob"))
	assert.Equal(t, "cm", p.Dimensions().Unit)
}

func TestSetDimensions_ReportsFirstInvalidSide(t *testing.T) {
	p, _ := newTestProduct(t, "10.00")
	d := &Dimensions{Length: dec("0"), Width: dec("-1"), Height: dec("0"), Unit: "cm"}

	for range 20 {
		err := p.SetDimensions(d, "bob")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "length must be positive", verr.Reason)
	}
	d.Length = dec("3")
	var verr *ValidationError
	require.ErrorAs(t, p.SetDimensions(d, "bob"), &verr)
	assert.Equal(t, "width must be positive", verr.Reason)
	assert.Nil(t, p.Dimensions())
}

func TestProductRecordRoundTrip(t *testing.T) {
	p, clock := newTestProduct(t, "10.00")
	require.NoError(t, p.UpdateSKU("W-1", "bob"))
	require.NoError(t, p.UpdateTags([]string{"a", "b"}, "bob"))
	_, err := p.Restock(3, "bob")
	require.NoError(t, err)

	got, err := RehydrateProduct(p.Record(), WithClock(clock))
	require.NoError(t, err)
	assert.True(t, got.Equal(p))
	assert.Equal(t, p.Record(), got.Record())
}

func TestRehydrateProduct_RejectsBrokenRecords(t *testing.T) {
	p, clock := newTestProduct(t, "10.00")

	negative := p.Record()
	negative.Stock = -1
	_, err := RehydrateProduct(negative, WithClock(clock))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	future := p.Record()
	future.CreatedAt = testEpoch.Add(ClockSkewTolerance + time.Second)
	_, err = RehydrateProduct(future, WithClock(clock))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	within := p.Record()
	within.CreatedAt = testEpoch.Add(ClockSkewTolerance)
	_, err = RehydrateProduct(within, WithClock(clock))
	assert.NoError(t, err)

	badUpdate := p.Record()
	earlier := testEpoch.Add(-time.Second)
	badUpdate.UpdatedAt = &earlier
	_, err = RehydrateProduct(badUpdate, WithClock(clock))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

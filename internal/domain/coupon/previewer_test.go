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

// --- Mock implementations ---

type mockRepo struct {
	Repository
	byCode      map[string]*Coupon
	redemptions int
	findErr     error
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockRepo) CountRedemptions(context.Context, int64, string) (int, error) {
	return m.redemptions, nil
}

func newTestPreviewer(repo *mockRepo) *Previewer {
	p := NewPreviewer(repo)
	p.now = func() time.Time { return testNow }
	return p
}

// --- Tests ---

func TestPreview_Valid(t *testing.T) {
	repo := &mockRepo{byCode: map[string]*Coupon{
		"SAVE10": {ID: 1, Code: "SAVE10", IsActive: true, DiscountType: DiscountPercentage, DiscountValue: dec("10")},
	}}

	p, err := newTestPreviewer(repo).Preview(context.Background(), "u1", " save10", dec("45.50"), nil)
	require.NoError(t, err)

	assert.True(t, p.Verdict.Valid)
	assert.Equal(t, "4.55", p.Verdict.Discount.StringFixed(2))
	assert.Equal(t, "40.95", p.FinalAmount.StringFixed(2))
	assert.Equal(t, int64(1), p.Coupon.ID)
}

func TestPreview_Rejected(t *testing.T) {
	repo := &mockRepo{byCode: map[string]*Coupon{
		"BIG": {Code: "BIG", IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("5"), MinPurchase: dec("100")},
	}}

	p, err := newTestPreviewer(repo).Preview(context.Background(), "u1", "BIG", dec("99.99"), nil)
	require.NoError(t, err)

	assert.False(t, p.Verdict.Valid)
	assert.Equal(t, ReasonBelowMinimum, p.Verdict.Reason)
	assert.Equal(t, "99.99", p.FinalAmount.StringFixed(2))
}

func TestPreview_PerUserLimit(t *testing.T) {
	repo := &mockRepo{
		byCode: map[string]*Coupon{
			"ONCE": {ID: 7, Code: "ONCE", IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("5"), PerUserLimit: ptr(1)},
		},
		redemptions: 1,
	}

	p, err := newTestPreviewer(repo).Preview(context.Background(), "u1", "ONCE", dec("20"), nil)
	require.NoError(t, err)
	assert.False(t, p.Verdict.Valid)
	assert.Equal(t, ReasonUserLimit, p.Verdict.Reason)
}

func TestPreview_NotFound(t *testing.T) {
	_, err := newTestPreviewer(&mockRepo{}).Preview(context.Background(), "u1", "NOPE", dec("20"), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPreview_StorageError(t *testing.T) {
	boom := errors.New("boom")
	_, err := newTestPreviewer(&mockRepo{findErr: boom}).Preview(context.Background(), "u1", "X", dec("20"), nil)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPreview_MatchesCheckoutEvaluation(t *testing.T) {
	c := &Coupon{
		Code: "MATCH", IsActive: true, DiscountType: DiscountPercentage,
		DiscountValue: dec("33"), MaxDiscount: decimal.NewNullDecimal(dec("12.00")),
	}
	repo := &mockRepo{byCode: map[string]*Coupon{"MATCH": c}}

	p, err := newTestPreviewer(repo).Preview(context.Background(), "u1", "MATCH", dec("77.77"), []string{"tools"})
	require.NoError(t, err)

	direct := Evaluate(c, dec("77.77"), []string{"tools"}, testNow)
	assert.Equal(t, direct.Valid, p.Verdict.Valid)
	assert.True(t, direct.Discount.Equal(p.Verdict.Discount))
}

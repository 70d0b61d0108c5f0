package quotes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaReleaseAndConsumeConserve(t *testing.T) {
	q := LimitedQuota(48, 50)
	require.True(t, q.Conserved())

	released := q.Release(1)
	assert.Equal(t, 47, released.Used)
	assert.Equal(t, 3, *released.Remaining)
	assert.Equal(t, 50, *released.Max)
	assert.True(t, released.Conserved())

	consumed := released.Consume(2)
	assert.Equal(t, 49, consumed.Used)
	assert.Equal(t, 1, *consumed.Remaining)
	assert.True(t, consumed.Conserved())

	// the receiver is untouched
	assert.Equal(t, 48, q.Used)
	assert.Equal(t, 2, *q.Remaining)
}

func TestQuotaReleaseClampsUsed(t *testing.T) {
	q := LimitedQuota(1, 10)
	out := q.Release(3)
	assert.Equal(t, 0, out.Used)
	assert.Equal(t, 10, *out.Remaining)
	assert.True(t, out.Conserved())
}

func TestUnlimitedQuotaNeverTouchesMaxOrRemaining(t *testing.T) {
	q := UnlimitedQuota(5)
	out := q.Release(2).Consume(4)
	assert.Equal(t, 7, out.Used)
	assert.Nil(t, out.Max)
	assert.Nil(t, out.Remaining)
	assert.True(t, out.IsUnlimited)
}

func TestQuotaCloneIsIndependent(t *testing.T) {
	q := LimitedQuota(2, 5)
	c := q.Clone()
	*c.Remaining = 99
	assert.Equal(t, 3, *q.Remaining)
	assert.False(t, q.Equal(c))
	assert.True(t, q.Equal(q.Clone()))
}

func TestQuotaOverLimitGainsNoHeadroomUntilBelowMax(t *testing.T) {
	q := LimitedQuota(60, 50)
	require.Equal(t, 0, *q.Remaining)
	require.True(t, q.Conserved())

	out := q.Release(1)
	assert.Equal(t, 59, out.Used)
	assert.Equal(t, 0, *out.Remaining)
	assert.Equal(t, 50, *out.Max)
	assert.True(t, out.Conserved())

	out = out.Release(10)
	assert.Equal(t, 49, out.Used)
	assert.Equal(t, 1, *out.Remaining)
	assert.True(t, out.Conserved())
}

func TestQuotaConsumeAtZeroRemainingStaysSymmetric(t *testing.T) {
	q := LimitedQuota(50, 50)
	over := q.Consume(2)
	assert.Equal(t, 52, over.Used)
	assert.Equal(t, 0, *over.Remaining)
	assert.True(t, over.Conserved())

	back := over.Release(2)
	assert.True(t, back.Equal(q))

	below := over.Release(3)
	assert.Equal(t, 49, below.Used)
	assert.Equal(t, 1, *below.Remaining)
	assert.True(t, below.Conserved())
}

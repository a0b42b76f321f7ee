package manage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlockedFeatures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		xp   int
		want []Feature
	}{
		{0, []Feature{FeatureBasic}},
		{99, []Feature{FeatureBasic}},
		{100, []Feature{FeatureBasic, FeatureBreakeven}},
		{1200, []Feature{FeatureBasic, FeatureBreakeven, FeatureBreakevenPlus, FeatureTrailing}},
		{5000, []Feature{FeatureBasic, FeatureBreakeven, FeatureBreakevenPlus, FeatureTrailing, FeaturePartialClose, FeatureRunner}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UnlockedFeatures(tt.xp).List(), "xp=%d", tt.xp)
	}

	all := UnlockedFeatures(1 << 20)
	assert.Len(t, all.List(), len(UnlockTable))
	assert.True(t, all.Has(FeatureAggressive))
}

func TestUnlockTableIsSorted(t *testing.T) {
	t.Parallel()

	for i := 1; i < len(UnlockTable); i++ {
		assert.Greater(t, UnlockTable[i].Experience, UnlockTable[i-1].Experience)
	}
}

func TestNextUnlock(t *testing.T) {
	t.Parallel()

	u, ok := NextUnlock(1200)
	assert.True(t, ok)
	assert.Equal(t, FeaturePartialClose, u.Feature)
	assert.Equal(t, 2000, u.Experience)

	_, ok = NextUnlock(20000)
	assert.False(t, ok)
	assert.Equal(t, "basic,breakeven", UnlockedFeatures(100).String())
}

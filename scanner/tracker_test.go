package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jvaldesl/flasharb/notify"
)

func TestLiquidityTracker(t *testing.T) {
	newTracker := func(clock *time.Time) *liquidityTracker {
		tr := newLiquidityTracker(notify.Nop{})
		tr.now = func() time.Time { return *clock }
		return tr
	}

	t.Run("FreshKeyNotSkipped", func(t *testing.T) {
		clock := time.Now()
		tr := newTracker(&clock)
		assert.False(t, tr.ShouldSkip("mainnet:WETH"))
	})

	t.Run("SkipsAfterThreeStrikes", func(t *testing.T) {
		clock := time.Now()
		tr := newTracker(&clock)

		tr.Mark("mainnet:WETH")
		assert.False(t, tr.ShouldSkip("mainnet:WETH"))
		tr.Mark("mainnet:WETH")
		assert.False(t, tr.ShouldSkip("mainnet:WETH"))
		tr.Mark("mainnet:WETH")
		assert.True(t, tr.ShouldSkip("mainnet:WETH"))
	})

	t.Run("RetriesOnceAfterCooldown", func(t *testing.T) {
		clock := time.Now()
		tr := newTracker(&clock)

		for i := 0; i < 3; i++ {
			tr.Mark("mainnet:UNI")
		}
		assert.True(t, tr.ShouldSkip("mainnet:UNI"))

		clock = clock.Add(noLiquidityCooldown + time.Second)
		assert.False(t, tr.ShouldSkip("mainnet:UNI"))

		// The retry found nothing: capped again, cooldown restarts.
		tr.Mark("mainnet:UNI")
		assert.True(t, tr.ShouldSkip("mainnet:UNI"))
	})

	t.Run("ResetClearsStrikes", func(t *testing.T) {
		clock := time.Now()
		tr := newTracker(&clock)

		for i := 0; i < 3; i++ {
			tr.Mark("mainnet:DAI")
		}
		tr.Reset("mainnet:DAI")
		assert.False(t, tr.ShouldSkip("mainnet:DAI"))
	})

	t.Run("StaleWindowRestartsCount", func(t *testing.T) {
		clock := time.Now()
		tr := newTracker(&clock)

		tr.Mark("mainnet:LINK")
		tr.Mark("mainnet:LINK")

		// Long quiet period, the old strikes no longer count.
		clock = clock.Add(noLiquidityCooldown + time.Second)
		tr.Mark("mainnet:LINK")
		assert.False(t, tr.ShouldSkip("mainnet:LINK"))
	})
}

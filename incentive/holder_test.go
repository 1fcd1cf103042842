package incentive_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

func TestHolder_Replace_BumpsVersionAndPublishes(t *testing.T) {
	// GIVEN: A holder on the default settings (version 1)
	// WHEN: Replacing with penalties enabled
	// THEN: Version 2 is current and stamped with the effective time

	h := incentive.NewHolder(incentive.DefaultSettings())

	next := penalties("25")
	var persisted incentive.Settings
	published, err := h.Replace(next, now, func(s incentive.Settings) error {
		persisted = s
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, published.Version)
	assert.Equal(t, now, published.EffectiveAt)
	assert.Equal(t, published, persisted)
	assert.Equal(t, published, h.Current())
	assert.True(t, h.Current().PenaltyEnabled)
}

func TestHolder_Replace_InvalidSettings_KeepsCurrent(t *testing.T) {
	h := incentive.NewHolder(incentive.DefaultSettings())

	bad := incentive.DefaultSettings()
	bad.MinPerformanceThreshold = dec("-10")

	_, err := h.Replace(bad, now, nil)
	assert.ErrorIs(t, err, generic.ErrInvalidPolicy)
	assert.Equal(t, 1, h.Current().Version)
}

func TestHolder_Replace_PersistFailure_KeepsCurrent(t *testing.T) {
	// GIVEN: A persist step that fails
	// WHEN: Replacing
	// THEN: The error surfaces and readers still see version 1

	h := incentive.NewHolder(incentive.DefaultSettings())
	boom := errors.New("disk full")

	_, err := h.Replace(penalties("25"), now, func(incentive.Settings) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, h.Current().Version)
	assert.False(t, h.Current().PenaltyEnabled)
}

func TestHolder_Restore(t *testing.T) {
	h := incentive.NewHolder(incentive.DefaultSettings())

	stored := penalties("30")
	stored.Version = 7
	h.Restore(stored)

	assert.Equal(t, 7, h.Current().Version)

	published, err := h.Replace(incentive.DefaultSettings(), now, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, published.Version)
}

func TestHolder_ConcurrentReplace_VersionsAreUnique(t *testing.T) {
	h := incentive.NewHolder(incentive.DefaultSettings())

	const writers = 20
	var wg sync.WaitGroup
	versions := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := h.Replace(incentive.DefaultSettings(), now, nil)
			if err == nil {
				versions <- s.Version
			}
			_ = h.Current()
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d published twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, writers)
	assert.Equal(t, writers+1, h.Current().Version)
}

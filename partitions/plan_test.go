package partitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	testCases := []struct {
		name         string
		n, parts     int
		expectedK    []int
		expectedKMax int
	}{
		{"even", 12, 4, []int{3, 3, 3, 3}, 3},
		{"remainder", 10, 4, []int{3, 3, 2, 2}, 3},
		{"more_parts_than_elements", 3, 8, []int{1, 1, 1}, 1},
		{"single", 7, 1, []int{7}, 7},
		{"zero_parts", 5, 0, []int{5}, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := Split(tc.n, tc.parts)
			if err := p.Validate(); err != nil {
				t.Fatalf("invalid plan: %v", err)
			}
			assert.Equal(t, tc.expectedK, p.K)
			assert.Equal(t, tc.expectedKMax, p.KpartMax)
			assert.Equal(t, tc.n, p.Total)
			lo, hi := p.Range(p.NumPartitions - 1)
			assert.Equal(t, tc.n, hi)
			assert.Equal(t, tc.n-tc.expectedK[len(tc.expectedK)-1], lo)
		})
	}
}

func TestSplit_Empty(t *testing.T) {
	p := Split(0, 4)
	assert.Equal(t, 0, p.NumPartitions)
	assert.NoError(t, p.Validate())
}

func TestSplitBySize(t *testing.T) {
	p := SplitBySize(1000, 256)
	assert.Equal(t, 4, p.NumPartitions)
	assert.LessOrEqual(t, p.KpartMax, 256)
	assert.NoError(t, p.Validate())
}

func TestAlignedOffsets(t *testing.T) {
	t.Run("NoAlignment", func(t *testing.T) {
		offsets, size := AlignedOffsets([]int{3, 5, 2}, 8, NoAlignment)
		assert.Equal(t, []int64{0, 3, 8, 10}, offsets)
		assert.Equal(t, int64(80), size)
	})

	t.Run("CacheLine", func(t *testing.T) {
		// 3 float32 values = 12 bytes, next block starts at byte 64.
		offsets, size := AlignedOffsets([]int{3, 3}, 4, CacheLineAlign)
		assert.Equal(t, []int64{0, 16, 32}, offsets)
		assert.Equal(t, int64(128), size)
		for i := 0; i < 2; i++ {
			if (offsets[i]*4)%64 != 0 {
				t.Errorf("block %d at byte %d is not cache line aligned", i, offsets[i]*4)
			}
		}
	})
}

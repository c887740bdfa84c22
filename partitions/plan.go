// Package partitions splits a flat index range into the contiguous partitions
// that one launch executes together: one partition per outer iteration, with
// up to KpartMax elements walked by the inner work items.
package partitions

import "fmt"

// AlignmentType specifies memory alignment requirements
type AlignmentType int

const (
	NoAlignment    AlignmentType = 1
	CacheLineAlign AlignmentType = 64
	WarpAlign      AlignmentType = 128
	PageAlign      AlignmentType = 4096
)

// Plan is a contiguous decomposition of [0, Total).
type Plan struct {
	NumPartitions int
	K             []int // Elements in each partition
	Offsets       []int // Start of each partition, with Offsets[NumPartitions] == Total
	KpartMax      int   // Maximum K value across all partitions
	Total         int
}

// Split divides n elements into at most parts partitions whose sizes differ
// by at most one. No partition is empty; n == 0 gives an empty plan.
func Split(n, parts int) Plan {
	if n <= 0 {
		return Plan{Offsets: []int{0}}
	}
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	p := Plan{
		NumPartitions: parts,
		K:             make([]int, parts),
		Offsets:       make([]int, parts+1),
		Total:         n,
	}
	base, extra := n/parts, n%parts
	for i := 0; i < parts; i++ {
		p.K[i] = base
		if i < extra {
			p.K[i]++
		}
		p.Offsets[i+1] = p.Offsets[i] + p.K[i]
		if p.K[i] > p.KpartMax {
			p.KpartMax = p.K[i]
		}
	}
	return p
}

// SplitBySize divides n elements into partitions of at most maxPerPartition.
func SplitBySize(n, maxPerPartition int) Plan {
	if maxPerPartition < 1 {
		maxPerPartition = 1
	}
	return Split(n, (n+maxPerPartition-1)/maxPerPartition)
}

// Range returns the half-open element range of partition part.
func (p Plan) Range(part int) (lo, hi int) {
	return p.Offsets[part], p.Offsets[part+1]
}

// Validate checks that the plan covers [0, Total) without gaps.
func (p Plan) Validate() error {
	if len(p.K) != p.NumPartitions || len(p.Offsets) != p.NumPartitions+1 {
		return fmt.Errorf("plan has %d partitions but %d sizes and %d offsets",
			p.NumPartitions, len(p.K), len(p.Offsets))
	}
	sum := 0
	for i, k := range p.K {
		if p.Offsets[i] != sum {
			return fmt.Errorf("partition %d starts at %d, expected %d", i, p.Offsets[i], sum)
		}
		if k > p.KpartMax {
			return fmt.Errorf("partition %d has %d elements, above KpartMax=%d", i, k, p.KpartMax)
		}
		sum += k
	}
	if sum != p.Total || p.Offsets[p.NumPartitions] != p.Total {
		return fmt.Errorf("plan covers %d elements, expected %d", sum, p.Total)
	}
	return nil
}

// AlignedOffsets lays out one block of widths[i] values per partition, each
// block starting on an alignment boundary. Offsets are in units of values,
// so ptr + offset addresses the block; the last entry bounds the layout. The
// second result is the layout size in bytes.
func AlignedOffsets(widths []int, valueSize int64, alignment AlignmentType) ([]int64, int64) {
	offsets := make([]int64, len(widths)+1)
	align := int64(alignment)
	if align == 0 {
		align = int64(NoAlignment)
	}
	if valueSize <= 0 {
		valueSize = 8
	}
	currentByteOffset := int64(0)
	for i, w := range widths {
		if currentByteOffset%align != 0 {
			currentByteOffset = ((currentByteOffset + align - 1) / align) * align
		}
		offsets[i] = currentByteOffset / valueSize
		currentByteOffset += int64(w) * valueSize
	}
	// Final offset for bounds checking
	if currentByteOffset%align != 0 {
		currentByteOffset = ((currentByteOffset + align - 1) / align) * align
	}
	offsets[len(widths)] = currentByteOffset / valueSize
	return offsets, offsets[len(widths)] * valueSize
}

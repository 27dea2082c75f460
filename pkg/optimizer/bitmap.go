package optimizer

import (
	"math/bits"
)

// Bitmap is a set of instruction indices.
type Bitmap struct {
	bits   []uint64
	length int
}

// NewBitmap creates a new bitmap with all bits initially clear (0).
func NewBitmap(length int) *Bitmap {
	numWords := (length + 63) / 64
	return &Bitmap{
		bits:   make([]uint64, numWords),
		length: length,
	}
}

// Len returns the number of indices the bitmap covers.
func (b *Bitmap) Len() int {
	return b.length
}

// Set adds index i. Out-of-range indices are ignored.
func (b *Bitmap) Set(i int) {
	if i < 0 || i >= b.length {
		return
	}
	b.bits[i/64] |= uint64(1) << (i % 64)
}

// IsSet reports whether index i is in the set.
func (b *Bitmap) IsSet(i int) bool {
	if i < 0 || i >= b.length {
		return false
	}
	return b.bits[i/64]&(uint64(1)<<(i%64)) != 0
}

// PopCount returns the number of indices in the set.
func (b *Bitmap) PopCount() int {
	count := 0
	for _, word := range b.bits {
		count += bits.OnesCount64(word)
	}
	return count
}

// Bools expands the set to one flag per index.
func (b *Bitmap) Bools() []bool {
	out := make([]bool, b.length)
	for i := range out {
		out[i] = b.IsSet(i)
	}
	return out
}

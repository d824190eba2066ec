// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitmap provides a growable bitmap indexed by frame number.
package bitmap

import (
	"math/bits"
)

// Bitmap is a set of non-negative integers, typically physical frame
// numbers. The zero value is an empty set.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// bitBlock holds the bits. Each uint64 in bitBlock holds 64 entries.
	bitBlock []uint64
}

// New creates an empty Bitmap with room for size entries before it needs to
// grow.
func New(size uint64) Bitmap {
	return Bitmap{bitBlock: make([]uint64, (size+63)/64)}
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the number of entries the bitmap can hold without growing.
func (b *Bitmap) Size() uint64 {
	return uint64(len(b.bitBlock)) * 64
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint64 {
	return b.numOnes
}

// Contains returns true if i is in the Bitmap.
func (b *Bitmap) Contains(i uint64) bool {
	blockNum := i / 64
	if blockNum >= uint64(len(b.bitBlock)) {
		return false
	}
	return b.bitBlock[blockNum]&(uint64(1)<<(i%64)) != 0
}

// Add adds i to the Bitmap. It returns false if i was already present.
func (b *Bitmap) Add(i uint64) bool {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	// If blockNum is out of range, extend b.bitBlock.
	if x, y := blockNum, uint64(len(b.bitBlock)); x >= y {
		b.bitBlock = append(b.bitBlock, make([]uint64, x-y+1)...)
	}
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock | mask
	b.numOnes++
	return true
}

// Remove removes i from the Bitmap. It returns false if i was not present.
func (b *Bitmap) Remove(i uint64) bool {
	if !b.Contains(i) {
		return false
	}
	b.bitBlock[i/64] &^= uint64(1) << (i % 64)
	b.numOnes--
	return true
}

// Minimum returns the smallest value in the Bitmap. ok is false if the
// Bitmap is empty.
func (b *Bitmap) Minimum() (min uint64, ok bool) {
	for i, w := range b.bitBlock {
		if w != 0 {
			return uint64(i)*64 + uint64(bits.TrailingZeros64(w)), true
		}
	}
	return 0, false
}

// Maximum returns the largest value in the Bitmap. ok is false if the Bitmap
// is empty.
func (b *Bitmap) Maximum() (max uint64, ok bool) {
	for i := len(b.bitBlock) - 1; i >= 0; i-- {
		if w := b.bitBlock[i]; w != 0 {
			return uint64(i)*64 + 63 - uint64(bits.LeadingZeros64(w)), true
		}
	}
	return 0, false
}

// ForEach calls fn for each value in ascending order until fn returns false.
func (b *Bitmap) ForEach(fn func(i uint64) bool) {
	for blockNum, block := range b.bitBlock {
		// Iterate through all the numbers held by this bit block.
		for block != 0 {
			// Extract the lowest set bit.
			j := block & -block
			if !fn(uint64(blockNum)*64 + uint64(bits.OnesCount64(j-1))) {
				return
			}
			block ^= j
		}
	}
}

// ToSlice returns the values in the Bitmap in ascending order. For example,
// a bitmap of [0, 1, 0, 1] returns [1, 3].
func (b *Bitmap) ToSlice() []uint64 {
	s := make([]uint64, 0, b.numOnes)
	b.ForEach(func(i uint64) bool {
		s = append(s, i)
		return true
	})
	return s
}

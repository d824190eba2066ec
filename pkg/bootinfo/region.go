// Copyright 2025 The gVisor Authors.
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

package bootinfo

import (
	"errors"
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
)

// Region is one entry of the firmware memory map.
type Region struct {
	Base   hostarch.PhysAddr `json:"base" yaml:"base"`
	Length uint64            `json:"length" yaml:"length"`
	Kind   Kind              `json:"kind" yaml:"kind"`
}

// Range returns the physical range covered by r.
func (r Region) Range() hostarch.PhysRange {
	return hostarch.PhysRangeOf(r.Base, r.Length)
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("%v %s", r.Range(), r.Kind)
}

// MemoryMap is the ordered sequence of regions supplied by the bootloader.
// It is read-only once handed to the memory core.
type MemoryMap []Region

// Largest returns the index of the longest region of any kind. The first of
// several equally long regions wins. ok is false for an empty map.
func (m MemoryMap) Largest() (idx int, ok bool) {
	idx = -1
	var max uint64
	for i, r := range m {
		if idx < 0 || r.Length > max {
			idx, max = i, r.Length
		}
	}
	return idx, idx >= 0
}

// UsableBytes returns the sum of the lengths of all usable regions.
func (m MemoryMap) UsableBytes() uint64 {
	var n uint64
	for _, r := range m {
		if r.Kind.IsUsable() {
			n += r.Length
		}
	}
	return n
}

// ReservedBytes returns the sum of the lengths of all non-usable regions.
func (m MemoryMap) ReservedBytes() uint64 {
	var n uint64
	for _, r := range m {
		if !r.Kind.IsUsable() {
			n += r.Length
		}
	}
	return n
}

// TotalBytes returns the sum of all region lengths.
func (m MemoryMap) TotalBytes() uint64 {
	return m.UsableBytes() + m.ReservedBytes()
}

// End returns the highest physical address covered by any region.
func (m MemoryMap) End() hostarch.PhysAddr {
	var end hostarch.PhysAddr
	for _, r := range m {
		if e := r.Range().End; e > end {
			end = e
		}
	}
	return end
}

// OfKind returns the regions of the given kind, in map order.
func (m MemoryMap) OfKind(k Kind) MemoryMap {
	var out MemoryMap
	for _, r := range m {
		if r.Kind == k {
			out = append(out, r)
		}
	}
	return out
}

// ErrOverlappingRegions is returned by Validate when a usable region shares
// bytes with another region.
var ErrOverlappingRegions = errors.New("usable region overlaps another region")

// Validate checks that every region is non-empty and does not wrap the
// address space, and that no usable region overlaps any other region.
// Non-usable regions may overlap each other.
func (m MemoryMap) Validate() error {
	for i, r := range m {
		if r.Length == 0 {
			return fmt.Errorf("memory map entry %d: zero length", i)
		}
		if end := r.Base + hostarch.PhysAddr(r.Length); end < r.Base {
			return fmt.Errorf("memory map entry %d: %#x+%#x overflows", i, uint64(r.Base), r.Length)
		}
	}
	for i, r := range m {
		for j := i + 1; j < len(m); j++ {
			if !r.Kind.IsUsable() && !m[j].Kind.IsUsable() {
				continue
			}
			if r.Range().Overlaps(m[j].Range()) {
				return fmt.Errorf("memory map entries %d (%v) and %d (%v): %w", i, r, j, m[j], ErrOverlappingRegions)
			}
		}
	}
	return nil
}

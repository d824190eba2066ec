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

package hostarch

import "fmt"

// PhysRange is a half-open range of physical addresses [Start, End).
type PhysRange struct {
	Start PhysAddr
	End   PhysAddr
}

// PhysRangeOf returns the range [start, start+length), clamped to the top of
// the address space if the addition overflows.
func PhysRangeOf(start PhysAddr, length uint64) PhysRange {
	end := start + PhysAddr(length)
	if end < start {
		end = ^PhysAddr(0)
	}
	return PhysRange{start, end}
}

// WellFormed returns true if r.Start <= r.End.
func (r PhysRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r PhysRange) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Contains returns true if r contains p.
func (r PhysRange) Contains(p PhysAddr) bool {
	return r.Start <= p && p < r.End
}

// IsSupersetOf returns true if r is a superset of r2.
func (r PhysRange) IsSupersetOf(r2 PhysRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// Overlaps returns true if r and r2 share at least one address.
func (r PhysRange) Overlaps(r2 PhysRange) bool {
	return r.Start < r2.End && r2.Start < r.End
}

// Frames returns the number of whole frames inside r, ignoring partial frames
// at either end.
func (r PhysRange) Frames() uint64 {
	start, ok := r.Start.RoundUp()
	if !ok || start >= r.End {
		return 0
	}
	return uint64(r.End.RoundDown()-start) >> PageShift
}

// String implements fmt.Stringer.String.
func (r PhysRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

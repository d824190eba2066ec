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

// Addr is a virtual address.
type Addr uint64

// PhysAddr is a physical address.
type PhysAddr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ PageMask
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v from the page boundary below it.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to v and returns the result. ok is true iff
// adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// IsDirectMapped returns true if v lies inside the higher-half direct map.
func (v Addr) IsDirectMapped() bool {
	return v >= HigherHalfOffset
}

// Physical returns the physical address aliased by a direct-map address.
//
// Precondition: v.IsDirectMapped().
func (v Addr) Physical() PhysAddr {
	return PhysAddr(v - HigherHalfOffset)
}

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// RoundDown returns the address rounded down to the nearest frame boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ PageMask
}

// RoundUp returns the address rounded up to the nearest frame boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = PhysAddr(p + PageMask).RoundDown()
	ok = addr >= p
	return
}

// IsPageAligned returns true if p is aligned to a frame boundary.
func (p PhysAddr) IsPageAligned() bool {
	return p&PageMask == 0
}

// Frame returns the frame number containing p.
func (p PhysAddr) Frame() uint64 {
	return uint64(p) >> PageShift
}

// FrameAddr returns the base address of the given frame number.
func FrameAddr(frame uint64) PhysAddr {
	return PhysAddr(frame << PageShift)
}

// DirectMap returns the higher-half alias of p.
func (p PhysAddr) DirectMap() Addr {
	return Addr(p) + HigherHalfOffset
}

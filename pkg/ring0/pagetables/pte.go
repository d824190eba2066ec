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

package pagetables

import (
	"fmt"
	"strings"

	"misraos.dev/kmem/pkg/hostarch"
)

// Flags is a set of page table entry bits.
type Flags uint64

// Entry bits. They are the same at every level of the hierarchy except
// LargerPages, which is only meaningful in L3 and L2 entries.
const (
	Present      Flags = 1 << 0
	ReadWrite    Flags = 1 << 1
	User         Flags = 1 << 2 // Clear means supervisor only.
	WriteThrough Flags = 1 << 3
	CacheDisable Flags = 1 << 4
	Accessed     Flags = 1 << 5
	Dirty        Flags = 1 << 6
	LargerPages  Flags = 1 << 7
	Global       Flags = 1 << 8
	NoExecute    Flags = 1 << 63
)

const (
	// addressMask selects bits 12-51, the physical frame.
	addressMask = 0x000ffffffffff000

	// flagsMask selects every bit that is not part of the frame.
	flagsMask = ^uint64(addressMask)
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Present, "P"},
	{ReadWrite, "RW"},
	{User, "U"},
	{WriteThrough, "PWT"},
	{CacheDisable, "PCD"},
	{Accessed, "A"},
	{Dirty, "D"},
	{LargerPages, "PS"},
	{Global, "G"},
	{NoExecute, "NX"},
}

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
			f &^= fn.flag
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("%#x", uint64(f)))
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}

// MemoryTypeFlags returns the caching bits for the given memory type.
func MemoryTypeFlags(mt hostarch.MemoryType) Flags {
	switch mt {
	case hostarch.MemoryTypeWriteThrough:
		return WriteThrough
	case hostarch.MemoryTypeUncached:
		return WriteThrough | CacheDisable
	default:
		return 0
	}
}

// PTE is a single page table entry, laid out exactly as the MMU reads it.
// Accessors only touch their own bits.
type PTE uint64

// Valid returns true iff the entry is present.
func (p *PTE) Valid() bool {
	return Flags(*p)&Present != 0
}

// Clear clears the entry.
func (p *PTE) Clear() {
	*p = 0
}

// Address returns the physical address of the frame the entry points to.
func (p *PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(uint64(*p) & addressMask)
}

// SetAddress replaces the frame bits with addr, which must be page aligned.
func (p *PTE) SetAddress(addr hostarch.PhysAddr) {
	if !addr.IsPageAligned() || uint64(addr)&^addressMask != 0 {
		panic(fmt.Sprintf("invalid frame address %v", addr))
	}
	*p = PTE(uint64(*p)&flagsMask | uint64(addr))
}

// Frame returns the frame number the entry points to.
func (p *PTE) Frame() uint64 {
	return p.Address().Frame()
}

// SetFrame replaces the frame bits with the given frame number.
func (p *PTE) SetFrame(frame uint64) {
	p.SetAddress(hostarch.FrameAddr(frame))
}

// Flag returns true iff all bits of f are set.
func (p *PTE) Flag(f Flags) bool {
	f &= Flags(flagsMask)
	return Flags(*p)&f == f
}

// SetFlag sets or clears the bits of f. Frame bits in f are ignored.
func (p *PTE) SetFlag(f Flags, on bool) {
	f &= Flags(flagsMask)
	if on {
		*p |= PTE(f)
	} else {
		*p &^= PTE(f)
	}
}

// Flags returns every non-frame bit of the entry.
func (p *PTE) Flags() Flags {
	return Flags(uint64(*p) & flagsMask)
}

// Set points the entry at addr with exactly the given flags, replacing
// whatever was there.
func (p *PTE) Set(addr hostarch.PhysAddr, flags Flags) {
	var e PTE
	e.SetAddress(addr)
	e.SetFlag(flags, true)
	*p = e
}

// String implements fmt.Stringer.String.
func (p *PTE) String() string {
	return fmt.Sprintf("%v[%v]", p.Address(), p.Flags())
}

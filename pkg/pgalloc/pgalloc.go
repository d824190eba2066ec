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

// Package pgalloc is the physical frame allocator.
//
// Free frames are kept on a stack of 8-byte direct-map addresses that itself
// lives in physical memory, at the base of the largest region of the memory
// map. Allocation and release are O(1). Frames from smaller usable regions
// are handed out first so the large block stays contiguous for longer.
//
// The allocator is built once per boot, before any second execution context
// exists, and is not safe for concurrent use.
package pgalloc

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/btree"
	"misraos.dev/kmem/pkg/bitmap"
	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
	"misraos.dev/kmem/pkg/ring0"
)

// MaxPagesPerCall is the most frames AllocatePages and FreePages accept: the
// number of addresses that fit in one frame.
const MaxPagesPerCall = hostarch.PageSize / 8

// Errors returned by the allocator.
var (
	ErrAlreadyInitialized = errors.New("physical memory manager already initialized")
	ErrReservedFrame      = errors.New("frame overlaps a reserved region")
	ErrNotAllocated       = errors.New("frame is not allocated")
	ErrPinnedFrame        = errors.New("frame backs a page table")
	ErrTooManyPages       = fmt.Errorf("more than %d pages in one call", MaxPagesPerCall)
	ErrBadCount           = errors.New("page count must be positive")
	ErrBadAddress         = errors.New("not a page-aligned direct-map address")
)

// Memory is the physical memory the free-frame stack lives in.
type Memory interface {
	// Words returns n 64-bit words starting at pa.
	Words(pa hostarch.PhysAddr, n uint64) []uint64

	// Size returns the number of bytes of physical memory.
	Size() uint64
}

// Allocator is the physical frame allocator.
type Allocator struct {
	mem Memory

	// initialized is set once Init succeeds.
	initialized bool

	// stack holds the free frames in [0, size). Its backing store is the
	// first stackFrames frames of the host region.
	stack       []uint64
	size        uint64
	stackBase   hostarch.PhysAddr
	stackFrames uint64

	// host is the region the stack lives in.
	host bootinfo.Region

	freeBytes     uint64
	usedBytes     uint64
	reservedBytes uint64

	// reserved holds the coalesced non-usable regions.
	reserved *btree.BTreeG[hostarch.PhysRange]

	// outstanding holds the frame numbers currently allocated.
	outstanding bitmap.Bitmap

	// pinned holds the frame numbers backing page tables.
	pinned bitmap.Bitmap

	// rejects reports refused frees.
	rejects log.Logger
}

// New returns an allocator built from mm. It is equivalent to calling Init on
// a zero Allocator.
func New(mem Memory, mm bootinfo.MemoryMap) (*Allocator, error) {
	a := &Allocator{}
	if err := a.Init(mem, mm); err != nil {
		return nil, err
	}
	return a, nil
}

// Init builds the free-frame stack from mm. It halts if the largest region
// cannot hold the stack. A second call is refused with ErrAlreadyInitialized
// and changes nothing.
func (a *Allocator) Init(mem Memory, mm bootinfo.MemoryMap) error {
	if a.initialized {
		log.Warningf("Physical memory manager already initialized")
		return ErrAlreadyInitialized
	}
	if err := mm.Validate(); err != nil {
		return err
	}
	hostIdx, ok := mm.Largest()
	if !ok {
		return fmt.Errorf("empty memory map")
	}
	host := mm[hostIdx]
	for _, r := range mm {
		if (r.Kind.IsUsable() || r == host) && !fitsIn(mem, r) {
			return fmt.Errorf("region %v lies outside physical memory of %#x bytes", r, mem.Size())
		}
	}

	freeBytes := mm.UsableBytes()
	reservedBytes := mm.ReservedBytes()
	capacity := freeBytes / hostarch.PageSize
	stackFrames := (capacity*8+hostarch.PageSize-1)/hostarch.PageSize + 1
	stackBase, _ := host.Base.RoundUp()
	stackBytes := stackFrames * hostarch.PageSize
	if host.Length <= stackBytes || uint64(stackBase-host.Base)+stackBytes > host.Length {
		log.Warningf("Insufficient memory to initialize PhysicalMemoryManager")
		log.Warningf("\tLargest memory block size : %d KB", host.Length/1024)
		log.Warningf("\tMemory required : %d KB", stackBytes/1024)
		ring0.Halt("largest region %v cannot hold a %d-frame free stack", host, stackFrames)
	}

	a.mem = mem
	a.host = host
	a.stackBase = stackBase
	a.stackFrames = stackFrames
	a.stack = mem.Words(stackBase, capacity)
	a.size = 0
	a.freeBytes = freeBytes
	a.reservedBytes = reservedBytes

	// The stack's own frames are used, never free. They come out of whichever
	// pool the host region belongs to.
	if host.Kind.IsUsable() {
		a.freeBytes -= stackBytes
	} else {
		a.reservedBytes -= stackBytes
	}
	a.usedBytes = stackBytes

	a.fill(mm, hostIdx)
	a.reserved = reservedIndex(mm)
	a.outstanding = bitmap.New(mem.Size() / hostarch.PageSize)
	a.pinned = bitmap.Bitmap{}
	a.rejects = log.BasicRateLimitedLogger(time.Second)
	a.initialized = true

	log.Debugf("Largest memory block: %v (%d KB)", host.Range(), host.Length/1024)
	log.Debugf("Free stack: %d frames at %v holding %d of %d entries", stackFrames, stackBase, a.size, capacity)
	return nil
}

func fitsIn(mem Memory, r bootinfo.Region) bool {
	return uint64(r.Range().End) <= mem.Size()
}

// fill pushes every whole free frame. Frames come out in the order they are
// enumerated: the smaller usable regions in map order, then the host region
// past the stack.
func (a *Allocator) fill(mm bootinfo.MemoryMap, hostIdx int) {
	var ranges []hostarch.PhysRange
	for i, r := range mm {
		if i != hostIdx && r.Kind.IsUsable() {
			ranges = append(ranges, r.Range())
		}
	}
	if a.host.Kind.IsUsable() {
		ranges = append(ranges, hostarch.PhysRange{
			Start: a.stackBase + hostarch.PhysAddr(a.stackFrames*hostarch.PageSize),
			End:   a.host.Range().End,
		})
	}

	var total uint64
	for _, r := range ranges {
		total += r.Frames()
	}
	if total > uint64(len(a.stack)) {
		panic(fmt.Sprintf("%d free frames overflow a stack of %d", total, len(a.stack)))
	}

	// The top of the stack is popped first, so fill it downwards.
	top := total
	for _, r := range ranges {
		start, _ := r.Start.RoundUp()
		for pa := start; pa+hostarch.PageSize <= r.End && pa+hostarch.PageSize > pa; pa += hostarch.PageSize {
			top--
			a.stack[top] = uint64(pa.DirectMap())
		}
	}
	a.size = total
}

// Initialized returns true once Init has succeeded.
func (a *Allocator) Initialized() bool {
	return a.initialized
}

// Memory returns the physical memory the allocator manages.
func (a *Allocator) Memory() Memory {
	return a.mem
}

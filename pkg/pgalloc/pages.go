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

package pgalloc

import (
	"errors"
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/ring0"
)

// AllocatePage pops one free frame and returns its direct-map address. It
// halts when no frame is left.
func (a *Allocator) AllocatePage() hostarch.Addr {
	if !a.initialized {
		ring0.Halt("frame allocated before the physical memory manager was initialized")
	}
	if a.size == 0 {
		ring0.Halt("Out Of Memory! %d KB used, %d KB reserved", a.usedBytes/1024, a.reservedBytes/1024)
	}
	a.size--
	addr := hostarch.Addr(a.stack[a.size])
	a.outstanding.Add(addr.Physical().Frame())
	a.freeBytes -= hostarch.PageSize
	a.usedBytes += hostarch.PageSize
	return addr
}

// PageList is the result of AllocatePages: a frame holding the addresses of
// the allocated frames.
type PageList struct {
	// Array is the direct-map address of the frame holding the list.
	Array hostarch.Addr

	// Pages aliases the first entries of Array.
	Pages []uint64
}

// Len returns the number of pages in the list.
func (l PageList) Len() int {
	return len(l.Pages)
}

// Page returns the direct-map address of page i.
func (l PageList) Page(i int) hostarch.Addr {
	return hostarch.Addr(l.Pages[i])
}

// Addrs returns a copy of the page addresses.
func (l PageList) Addrs() []hostarch.Addr {
	out := make([]hostarch.Addr, len(l.Pages))
	for i, p := range l.Pages {
		out[i] = hostarch.Addr(p)
	}
	return out
}

// AllocatePages allocates a frame to hold the result, then n frames whose
// addresses are written into it. n may not exceed MaxPagesPerCall. It halts
// if memory runs out part way.
func (a *Allocator) AllocatePages(n int) (PageList, error) {
	switch {
	case n <= 0:
		return PageList{}, ErrBadCount
	case n > MaxPagesPerCall:
		return PageList{}, fmt.Errorf("allocating %d pages: %w", n, ErrTooManyPages)
	}
	array := a.AllocatePage()
	pages := a.mem.Words(array.Physical(), uint64(n))
	for i := range pages {
		pages[i] = uint64(a.AllocatePage())
	}
	return PageList{Array: array, Pages: pages}, nil
}

// FreePage returns the frame at addr to the free stack.
//
// The frame is refused, and nothing changes, if it overlaps a reserved
// region, backs a page table, or is not currently allocated.
func (a *Allocator) FreePage(addr hostarch.Addr) error {
	if err := a.checkFree(addr); err != nil {
		return err
	}
	a.outstanding.Remove(addr.Physical().Frame())
	a.stack[a.size] = uint64(addr)
	a.size++
	a.freeBytes += hostarch.PageSize
	a.usedBytes -= hostarch.PageSize
	return nil
}

func (a *Allocator) checkFree(addr hostarch.Addr) error {
	if !a.initialized {
		return fmt.Errorf("freeing %v: physical memory manager not initialized", addr)
	}
	if !addr.IsDirectMapped() || !addr.IsPageAligned() {
		return fmt.Errorf("freeing %v: %w", addr, ErrBadAddress)
	}
	pa := addr.Physical()
	if r, ok := a.overlapsReserved(hostarch.PhysRangeOf(pa, hostarch.PageSize)); ok {
		a.rejects.Warningf("Attempt to free a reserved page! : Address = %v (reserved %v)", pa, r)
		return fmt.Errorf("freeing %v: %w", addr, ErrReservedFrame)
	}
	frame := pa.Frame()
	if a.pinned.Contains(frame) {
		a.rejects.Warningf("Attempt to free a page table frame! : Address = %v", pa)
		return fmt.Errorf("freeing %v: %w", addr, ErrPinnedFrame)
	}
	if !a.outstanding.Contains(frame) {
		a.rejects.Warningf("Attempt to free a page that is not allocated! : Address = %v", pa)
		return fmt.Errorf("freeing %v: %w", addr, ErrNotAllocated)
	}
	return nil
}

// FreePages frees every address in addrs, continuing past refused ones. The
// returned error joins the refusals. More than MaxPagesPerCall addresses are
// refused outright.
func (a *Allocator) FreePages(addrs []hostarch.Addr) error {
	if len(addrs) > MaxPagesPerCall {
		return fmt.Errorf("freeing %d pages: %w", len(addrs), ErrTooManyPages)
	}
	var errs []error
	for _, addr := range addrs {
		if err := a.FreePage(addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FreePageList frees every page of l and then the frame holding the list.
func (a *Allocator) FreePageList(l PageList) error {
	err := a.FreePages(l.Addrs())
	return errors.Join(err, a.FreePage(l.Array))
}

// Pin marks an allocated frame as backing a page table. Pinned frames cannot
// be freed.
func (a *Allocator) Pin(addr hostarch.Addr) error {
	if !addr.IsDirectMapped() || !addr.IsPageAligned() {
		return fmt.Errorf("pinning %v: %w", addr, ErrBadAddress)
	}
	frame := addr.Physical().Frame()
	if !a.outstanding.Contains(frame) {
		return fmt.Errorf("pinning %v: %w", addr, ErrNotAllocated)
	}
	a.pinned.Add(frame)
	return nil
}

// IsAllocated returns true if the frame at addr is currently allocated.
func (a *Allocator) IsAllocated(addr hostarch.Addr) bool {
	return addr.IsDirectMapped() && a.outstanding.Contains(addr.Physical().Frame())
}

// IsPinned returns true if the frame at addr backs a page table.
func (a *Allocator) IsPinned(addr hostarch.Addr) bool {
	return addr.IsDirectMapped() && a.pinned.Contains(addr.Physical().Frame())
}

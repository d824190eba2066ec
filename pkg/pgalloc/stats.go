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
	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
)

// Stats is a snapshot of the allocator's accounting.
//
// FreeBytes + UsedBytes + ReservedBytes == TotalBytes at all times.
type Stats struct {
	FreeBytes     uint64 `json:"free_bytes" yaml:"free_bytes"`
	UsedBytes     uint64 `json:"used_bytes" yaml:"used_bytes"`
	ReservedBytes uint64 `json:"reserved_bytes" yaml:"reserved_bytes"`
	TotalBytes    uint64 `json:"total_bytes" yaml:"total_bytes"`

	// FreePages is the stack occupancy.
	FreePages uint64 `json:"free_pages" yaml:"free_pages"`

	// TotalPages is the stack capacity: usable bytes over the frame size.
	TotalPages uint64 `json:"total_pages" yaml:"total_pages"`

	// StackPages is the number of frames holding the stack.
	StackPages uint64 `json:"stack_pages" yaml:"stack_pages"`

	// AllocatedPages is the number of frames handed out and not yet freed.
	AllocatedPages uint64 `json:"allocated_pages" yaml:"allocated_pages"`

	// PinnedPages is the number of allocated frames backing page tables.
	PinnedPages uint64 `json:"pinned_pages" yaml:"pinned_pages"`
}

// Stats returns the current accounting.
func (a *Allocator) Stats() Stats {
	return Stats{
		FreeBytes:      a.freeBytes,
		UsedBytes:      a.usedBytes,
		ReservedBytes:  a.reservedBytes,
		TotalBytes:     a.freeBytes + a.usedBytes + a.reservedBytes,
		FreePages:      a.size,
		TotalPages:     uint64(len(a.stack)),
		StackPages:     a.stackFrames,
		AllocatedPages: a.outstanding.GetNumOnes(),
		PinnedPages:    a.pinned.GetNumOnes(),
	}
}

// FreeMemory returns the number of free bytes.
func (a *Allocator) FreeMemory() uint64 { return a.freeBytes }

// UsedMemory returns the number of used bytes, the stack included.
func (a *Allocator) UsedMemory() uint64 { return a.usedBytes }

// ReservedMemory returns the number of bytes in non-usable regions.
func (a *Allocator) ReservedMemory() uint64 { return a.reservedBytes }

// TotalMemory returns the size of every region of the memory map.
func (a *Allocator) TotalMemory() uint64 {
	return a.freeBytes + a.usedBytes + a.reservedBytes
}

// StackHost returns the region the free stack lives in and the physical range
// the stack occupies.
func (a *Allocator) StackHost() (bootinfo.Region, hostarch.PhysRange) {
	return a.host, hostarch.PhysRangeOf(a.stackBase, a.stackFrames*hostarch.PageSize)
}

// ShowStatistics logs the accounting. It has no other effect.
func (a *Allocator) ShowStatistics() {
	s := a.Stats()
	log.Infof("Memory Stats :")
	log.Infof("\tFree Memory : %d KB", s.FreeBytes/1024)
	log.Infof("\tUsed Memory : %d KB", s.UsedBytes/1024)
	log.Infof("\tReserved Memory : %d KB", s.ReservedBytes/1024)
	log.Infof("\tFree Pages : %d pages", s.FreePages)
	log.Infof("\tTotal Pages : %d pages", s.TotalPages)
}

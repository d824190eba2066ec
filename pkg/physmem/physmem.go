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

//go:build linux
// +build linux

// Package physmem simulates the machine's physical RAM.
//
// Physical address p is byte p of a sparse anonymous mapping, so structures
// the memory core keeps "in physical memory" (the free-frame stack, page
// tables) really live at their physical addresses and can be inspected the
// way hardware would see them.
package physmem

import (
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/memutil"
)

// Memory is simulated physical RAM covering [0, Size()).
type Memory struct {
	arena []byte
}

// New returns zero-filled memory covering physical addresses [0, size),
// with size rounded up to a frame boundary.
func New(size uint64) (*Memory, error) {
	end, ok := hostarch.PhysAddr(size).RoundUp()
	if !ok || end == 0 {
		return nil, fmt.Errorf("invalid physical memory size %#x", size)
	}
	arena, err := memutil.MapAnonymous(uint64(end))
	if err != nil {
		return nil, fmt.Errorf("allocating physical memory: %w", err)
	}
	return &Memory{arena: arena}, nil
}

// Release returns the backing mapping. The Memory must not be used
// afterwards.
func (m *Memory) Release() error {
	arena := m.arena
	m.arena = nil
	return memutil.UnmapSlice(arena)
}

// Size returns the number of bytes of physical memory.
func (m *Memory) Size() uint64 {
	return uint64(len(m.arena))
}

// Contains returns true if every address in r is backed.
func (m *Memory) Contains(r hostarch.PhysRange) bool {
	return r.WellFormed() && uint64(r.End) <= m.Size()
}

// Bytes returns the bytes at [pa, pa+length).
//
// Accessing unbacked memory is a machine check: Bytes panics.
func (m *Memory) Bytes(pa hostarch.PhysAddr, length uint64) []byte {
	r := hostarch.PhysRangeOf(pa, length)
	if r.Length() != length || !m.Contains(r) {
		panic(fmt.Sprintf("physical access %v outside memory [0, %#x)", r, m.Size()))
	}
	return m.arena[r.Start:r.End:r.End]
}

// Zero clears [pa, pa+length).
func (m *Memory) Zero(pa hostarch.PhysAddr, length uint64) {
	clear(m.Bytes(pa, length))
}

// ZeroFrame clears the frame starting at pa.
func (m *Memory) ZeroFrame(pa hostarch.PhysAddr) {
	m.Zero(pa.RoundDown(), hostarch.PageSize)
}

// DirectBytes returns the bytes behind a direct-map virtual address range.
func (m *Memory) DirectBytes(va hostarch.Addr, length uint64) ([]byte, error) {
	if !va.IsDirectMapped() {
		return nil, fmt.Errorf("address %v is not in the direct map", va)
	}
	r := hostarch.PhysRangeOf(va.Physical(), length)
	if r.Length() != length || !m.Contains(r) {
		return nil, fmt.Errorf("direct-map range %v is outside physical memory", r)
	}
	return m.Bytes(r.Start, length), nil
}

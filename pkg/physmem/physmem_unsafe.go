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

package physmem

import (
	"fmt"
	"unsafe"

	"misraos.dev/kmem/pkg/hostarch"
)

// Words returns n 64-bit words starting at pa.
//
// Precondition: pa is 8-byte aligned.
func (m *Memory) Words(pa hostarch.PhysAddr, n uint64) []uint64 {
	if pa%8 != 0 {
		panic(fmt.Sprintf("unaligned word access at %v", pa))
	}
	if n == 0 {
		return nil
	}
	b := m.Bytes(pa, n*8)
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), n)
}

// Pointer returns a pointer to the length bytes at pa, for overlaying a
// fixed-layout hardware structure.
func (m *Memory) Pointer(pa hostarch.PhysAddr, length uint64) unsafe.Pointer {
	return unsafe.Pointer(&m.Bytes(pa, length)[0])
}

// PhysicalFor returns the physical address of the byte p points to, which must
// lie inside m.
func (m *Memory) PhysicalFor(p unsafe.Pointer) hostarch.PhysAddr {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(m.arena)))
	off := uintptr(p) - base
	if uintptr(p) < base || uint64(off) >= m.Size() {
		panic(fmt.Sprintf("pointer %p is outside physical memory", p))
	}
	return hostarch.PhysAddr(off)
}

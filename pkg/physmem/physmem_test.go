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
	"testing"
	"unsafe"

	"misraos.dev/kmem/pkg/hostarch"
)

func newMemory(t *testing.T, size uint64) *Memory {
	t.Helper()
	m, err := New(size)
	if err != nil {
		t.Fatalf("New(%#x) failed: %v", size, err)
	}
	t.Cleanup(func() {
		if err := m.Release(); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})
	return m
}

func TestNewRoundsUp(t *testing.T) {
	m := newMemory(t, 0x1001)
	if got, want := m.Size(), uint64(0x2000); got != want {
		t.Errorf("Size() = %#x, want %#x", got, want)
	}
	if _, err := New(0); err == nil {
		t.Errorf("New(0) succeeded, want error")
	}
}

func TestWordsAliasBytes(t *testing.T) {
	m := newMemory(t, 4*hostarch.PageSize)
	w := m.Words(0x1000, 2)
	w[1] = 0x1122334455667788
	b := m.Bytes(0x1008, 8)
	// Memory is little-endian, like the machine.
	if b[0] != 0x88 || b[7] != 0x11 {
		t.Errorf("word store not visible little-endian in bytes: % x", b)
	}
	m.ZeroFrame(0x1abc)
	if w[1] != 0 {
		t.Errorf("ZeroFrame did not clear the frame")
	}
}

func TestPhysicalFor(t *testing.T) {
	m := newMemory(t, 4*hostarch.PageSize)
	p := m.Pointer(0x3000, hostarch.PageSize)
	if got := m.PhysicalFor(p); got != 0x3000 {
		t.Errorf("PhysicalFor = %v, want 0x3000", got)
	}
	p = unsafe.Add(p, 0x10)
	if got := m.PhysicalFor(p); got != 0x3010 {
		t.Errorf("PhysicalFor = %v, want 0x3010", got)
	}
}

func TestDirectBytes(t *testing.T) {
	m := newMemory(t, 2*hostarch.PageSize)
	m.Bytes(0x1000, 1)[0] = 0xaa
	b, err := m.DirectBytes(hostarch.PhysAddr(0x1000).DirectMap(), 1)
	if err != nil {
		t.Fatalf("DirectBytes failed: %v", err)
	}
	if b[0] != 0xaa {
		t.Errorf("DirectBytes = %#x, want 0xaa", b[0])
	}
	if _, err := m.DirectBytes(0x1000, 1); err == nil {
		t.Errorf("DirectBytes accepted a non direct-map address")
	}
	if _, err := m.DirectBytes(hostarch.PhysAddr(0x2000).DirectMap(), 1); err == nil {
		t.Errorf("DirectBytes accepted an address beyond memory")
	}
}

func TestOutOfRangePanics(t *testing.T) {
	m := newMemory(t, hostarch.PageSize)
	for name, fn := range map[string]func(){
		"bytes":     func() { m.Bytes(hostarch.PageSize, 1) },
		"wrap":      func() { m.Bytes(^hostarch.PhysAddr(0), 2) },
		"unaligned": func() { m.Words(4, 1) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("access did not panic")
				}
			}()
			fn()
		})
	}
}

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

// Package boot brings up the memory core: it builds the physical frame
// allocator from the bootloader's memory map, builds the kernel address space
// on top of it and switches the processor to it.
package boot

import (
	"fmt"

	"misraos.dev/kmem/pkg/addrspace"
	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/log"
	"misraos.dev/kmem/pkg/pgalloc"
	"misraos.dev/kmem/pkg/physmem"
	"misraos.dev/kmem/pkg/ring0"
)

// Options configures Boot.
type Options struct {
	// Bootstrap selects the general memory windows.
	Bootstrap addrspace.BootstrapOptions

	// MemorySize is the size of simulated physical memory. Zero sizes it to
	// the end of the memory map.
	MemorySize uint64
}

// Kernel is the state the memory core hands to the rest of the kernel.
type Kernel struct {
	Info         *bootinfo.BootInfo
	Memory       *physmem.Memory
	Frames       *pgalloc.Allocator
	AddressSpace *addrspace.AddressSpace
	CPU          *ring0.CPU
	Report       addrspace.BootstrapReport
}

// Boot runs the memory bring-up on a fresh simulated machine described by
// info. Invalid input is returned as an error; the conditions a kernel cannot
// continue from (no room for the free stack, a failed boot mapping) halt.
func Boot(info *bootinfo.BootInfo, opts Options) (*Kernel, error) {
	size := opts.MemorySize
	if size == 0 {
		size = uint64(info.Memory.End())
	}
	mem, err := physmem.New(size)
	if err != nil {
		return nil, err
	}
	k := &Kernel{Info: info, Memory: mem}
	ok := false
	defer func() {
		if !ok {
			mem.Release()
		}
	}()

	k.Frames, err = pgalloc.New(mem, info.Memory)
	if err != nil {
		return nil, fmt.Errorf("building frame allocator: %w", err)
	}
	log.Infof("Created Physical Memory Manager")
	if log.IsLogging(log.Debug) {
		k.Frames.ShowStatistics()
	}

	k.CPU = ring0.NewCPU(addrspace.PhysicalTables(mem))
	k.AddressSpace = addrspace.New(k.Frames, mem, k.CPU)
	if err := k.AddressSpace.CreatePageMap(); err != nil {
		ring0.Halt("creating page map: %v", err)
	}
	k.Report, err = k.AddressSpace.Bootstrap(info, opts.Bootstrap)
	if err != nil {
		ring0.Halt("bootstrap mapping: %v", err)
	}
	if err := k.AddressSpace.LoadPageTable(); err != nil {
		ring0.Halt("loading page table: %v", err)
	}
	log.Infof("Created Virtual Memory Manager")

	ok = true
	return k, nil
}

// Release frees the simulated machine.
func (k *Kernel) Release() error {
	return k.Memory.Release()
}

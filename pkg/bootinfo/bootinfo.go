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

// Package bootinfo describes what the bootloader hands to the memory core:
// the physical memory map, where the kernel image was loaded and the linear
// framebuffer.
package bootinfo

import (
	"misraos.dev/kmem/pkg/hostarch"
)

// FramebufferInfo is the linear framebuffer reported by the bootloader. Only
// the byte range it covers matters to the memory core.
type FramebufferInfo struct {
	Address hostarch.PhysAddr `json:"address" yaml:"address"`
	Width   uint32            `json:"width" yaml:"width"`
	Height  uint32            `json:"height" yaml:"height"`
	Pitch   uint32            `json:"pitch" yaml:"pitch"`
}

// Size returns the number of bytes the framebuffer occupies.
func (f FramebufferInfo) Size() uint64 {
	return uint64(f.Pitch) * uint64(f.Height)
}

// Range returns the physical range the framebuffer occupies.
func (f FramebufferInfo) Range() hostarch.PhysRange {
	return hostarch.PhysRangeOf(f.Address, f.Size())
}

// Present returns true if the bootloader reported a framebuffer.
func (f FramebufferInfo) Present() bool {
	return f.Address != 0 && f.Size() != 0
}

// BootInfo is the bootloader handoff consumed by the memory core.
type BootInfo struct {
	Memory MemoryMap `json:"memory" yaml:"memory"`

	// KernelPhysBase is where the kernel image was loaded. Zero means the
	// bootloader did not say, and the first KernelAndModules region is
	// used instead.
	KernelPhysBase hostarch.PhysAddr `json:"kernel_phys_base" yaml:"kernel_phys_base"`

	// KernelVirtBase is where the kernel image is linked. Zero means
	// hostarch.KernelVirtBase.
	KernelVirtBase hostarch.Addr `json:"kernel_virt_base" yaml:"kernel_virt_base"`

	Framebuffer FramebufferInfo `json:"framebuffer" yaml:"framebuffer"`
}

// KernelBases returns the physical and virtual base of the kernel window,
// applying the defaults described on BootInfo. ok is false if no physical
// base is known.
func (b *BootInfo) KernelBases() (phys hostarch.PhysAddr, virt hostarch.Addr, ok bool) {
	phys, virt = b.KernelPhysBase, b.KernelVirtBase
	if virt == 0 {
		virt = hostarch.KernelVirtBase
	}
	if phys == 0 {
		kernel := b.Memory.OfKind(KernelAndModules)
		if len(kernel) == 0 {
			return 0, virt, false
		}
		phys = kernel[0].Base
	}
	return phys, virt, true
}

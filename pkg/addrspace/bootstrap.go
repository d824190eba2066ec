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

package addrspace

import (
	"fmt"

	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
	"misraos.dev/kmem/pkg/ring0/pagetables"
)

// BootstrapOptions selects the windows built for general memory.
type BootstrapOptions struct {
	// DirectMap maps every region at HigherHalfOffset + its physical address.
	DirectMap bool

	// IdentityMap maps every region at its own physical address.
	IdentityMap bool
}

// DefaultBootstrapOptions builds the direct map only.
var DefaultBootstrapOptions = BootstrapOptions{DirectMap: true}

// Flags used by the boot mappings.
const (
	kernelFlags      = pagetables.Present | pagetables.ReadWrite | pagetables.Global
	directFlags      = pagetables.Present | pagetables.ReadWrite | pagetables.NoExecute
	identityFlags    = pagetables.Present | pagetables.ReadWrite
	framebufferFlags = pagetables.Present | pagetables.ReadWrite | pagetables.NoExecute
)

// BootstrapReport counts what Bootstrap mapped.
type BootstrapReport struct {
	KernelPages      uint64 `json:"kernel_pages" yaml:"kernel_pages"`
	FramebufferPages uint64 `json:"framebuffer_pages" yaml:"framebuffer_pages"`
	DirectPages      uint64 `json:"direct_pages" yaml:"direct_pages"`
	IdentityPages    uint64 `json:"identity_pages" yaml:"identity_pages"`

	// SharedPages counts pages a later window found already mapped to the
	// same frame and left alone.
	SharedPages uint64 `json:"shared_pages" yaml:"shared_pages"`
}

// Bootstrap builds the boot mappings described by info, in this order:
//
//  1. KernelAndModules regions at the kernel virtual base, offset from the
//     kernel's physical base.
//  2. Framebuffer regions, and the framebuffer reported in info, at
//     HigherHalfOffset + base, uncached.
//  3. The direct map of every region, if selected.
//  4. The identity map of every region, if selected.
//
// A page already mapped to the same frame is left as it is. A page mapped to
// a different frame fails with ErrOverlap; nothing is ever silently replaced.
// Bootstrap may be called more than once before LoadPageTable.
func (as *AddressSpace) Bootstrap(info *bootinfo.BootInfo, opts BootstrapOptions) (BootstrapReport, error) {
	var report BootstrapReport
	switch as.state {
	case Uninitialized:
		return report, ErrNotInitialized
	case Active:
		return report, ErrActive
	}
	as.state = Bootstrapping

	kernel := info.Memory.OfKind(bootinfo.KernelAndModules)
	if len(kernel) > 0 {
		kphys, kvirt, _ := info.KernelBases()
		for _, r := range kernel {
			if r.Base < kphys {
				return report, fmt.Errorf("kernel region %v lies below the kernel base %v", r, kphys)
			}
			virt := kvirt + hostarch.Addr(r.Base-kphys)
			n, err := as.mapRange(virt, r.Range(), kernelFlags, &report)
			if err != nil {
				return report, fmt.Errorf("kernel window: %w", err)
			}
			report.KernelPages += n
		}
	}

	fbFlags := framebufferFlags | pagetables.MemoryTypeFlags(hostarch.MemoryTypeUncached)
	fbRanges := make([]hostarch.PhysRange, 0, 1)
	for _, r := range info.Memory.OfKind(bootinfo.Framebuffer) {
		fbRanges = append(fbRanges, r.Range())
	}
	if info.Framebuffer.Present() {
		fbRanges = append(fbRanges, info.Framebuffer.Range())
	}
	for _, r := range fbRanges {
		n, err := as.mapRange(r.Start.DirectMap(), r, fbFlags, &report)
		if err != nil {
			return report, fmt.Errorf("framebuffer window: %w", err)
		}
		report.FramebufferPages += n
	}

	if opts.DirectMap {
		for _, r := range info.Memory {
			n, err := as.mapRange(r.Base.DirectMap(), r.Range(), directFlags, &report)
			if err != nil {
				return report, fmt.Errorf("direct map: %w", err)
			}
			report.DirectPages += n
		}
	}

	if opts.IdentityMap {
		for _, r := range info.Memory {
			n, err := as.mapRange(hostarch.Addr(r.Base), r.Range(), identityFlags, &report)
			if err != nil {
				return report, fmt.Errorf("identity map: %w", err)
			}
			report.IdentityPages += n
		}
	}

	log.Debugf("Bootstrap mappings: %+v, %d table frames", report, as.alloc.tables)
	return report, nil
}

// mapRange maps every frame touched by r, starting at virt, and returns the
// number of pages it installed.
func (as *AddressSpace) mapRange(virt hostarch.Addr, r hostarch.PhysRange, flags pagetables.Flags, report *BootstrapReport) (uint64, error) {
	start := r.Start.RoundDown()
	end, ok := r.End.RoundUp()
	if !ok {
		return 0, fmt.Errorf("range %v wraps", r)
	}
	virt -= hostarch.Addr(r.Start - start)

	var n uint64
	for pa := start; pa < end; pa += hostarch.PageSize {
		va := virt + hostarch.Addr(pa-start)
		if !pagetables.IsCanonical(va) {
			return n, fmt.Errorf("%v maps to non-canonical address %v", pa, va)
		}
		pte, _ := as.tables.GetPage(va, true)
		if pte.Valid() {
			if pte.Address() != pa {
				return n, fmt.Errorf("%w: %v already maps %v, not %v", ErrOverlap, va, pte.Address(), pa)
			}
			report.SharedPages++
			continue
		}
		pte.Set(pa, flags)
		n++
	}
	return n, nil
}

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

// Package hostarch describes the x86-64 address layout used by the kernel
// memory core: page geometry, the higher-half direct map and the kernel image
// window.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page (and of a physical frame) in bytes.
	PageSize = 1 << PageShift

	// PageMask masks the offset within a page.
	PageMask = PageSize - 1

	// HigherHalfOffset is added to a physical address to obtain its alias in
	// the direct map. Every frame handed out by the frame allocator is
	// expressed in this window.
	HigherHalfOffset Addr = 0xffff800000000000

	// KernelVirtBase is the virtual address at which the kernel image is
	// linked. Frames described as KernelAndModules are mapped relative to
	// it.
	KernelVirtBase Addr = 0xffffffff80000000
)

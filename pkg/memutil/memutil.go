// Copyright 2019 The gVisor Authors.
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

// Package memutil provides utilities for working with anonymous memory
// mappings.
package memutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MapAnonymous returns a private, zero-filled, read/write mapping of size
// bytes. The mapping is created with MAP_NORESERVE so that large sparse
// arenas only consume memory for pages that are actually touched.
func MapAnonymous(size uint64) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("zero-length mapping")
	}
	if size > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("mapping of %#x bytes exceeds the address space", size)
	}
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mmap of %#x bytes failed: %w", size, err)
	}
	return b, nil
}

// UnmapSlice unmaps a mapping returned by MapAnonymous. slice must be the
// exact slice MapAnonymous returned.
func UnmapSlice(slice []byte) error {
	if cap(slice) == 0 {
		return nil
	}
	if err := unix.Munmap(slice); err != nil {
		return fmt.Errorf("munmap of %#x bytes failed: %w", cap(slice), err)
	}
	return nil
}

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

package hostarch

import "fmt"

// MemoryType specifies CPU caching behavior for a mapping. Only the types
// expressible with the PWT and PCD entry bits (PAT index 0-3 with the reset
// PAT) are supported.
type MemoryType uint8

const (
	// MemoryTypeWriteBack is the default for RAM and must be the zero value.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeWriteThrough sets PWT. Writes go straight to memory; reads
	// may still be cached.
	MemoryTypeWriteThrough

	// MemoryTypeUncached sets PCD and PWT (strong uncacheable with the reset
	// PAT). Used for device memory such as the framebuffer.
	MemoryTypeUncached
)

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeWriteThrough:
		return "WriteThrough"
	case MemoryTypeUncached:
		return "Uncached"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

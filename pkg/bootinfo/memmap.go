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

package bootinfo

import (
	"encoding/binary"
	"fmt"

	"misraos.dev/kmem/pkg/hostarch"
)

// MemmapTagID identifies the stivale2 memory map structure tag.
const MemmapTagID = 0x2187f79e8612de07

const (
	// memmapHeaderSize is identifier, next and entries, 8 bytes each.
	memmapHeaderSize = 24

	// memmapEntrySize is base (8), length (8), type (4) and unused (4).
	memmapEntrySize = 24
)

// DecodeMemmapTag decodes a stivale2 memory map tag. All fields are
// little-endian. The next pointer is ignored.
func DecodeMemmapTag(b []byte) (MemoryMap, error) {
	if len(b) < memmapHeaderSize {
		return nil, fmt.Errorf("memmap tag truncated: %d bytes, need at least %d", len(b), memmapHeaderSize)
	}
	if id := binary.LittleEndian.Uint64(b[0:]); id != MemmapTagID {
		return nil, fmt.Errorf("not a memmap tag: identifier %#x", id)
	}
	entries := binary.LittleEndian.Uint64(b[16:])
	body := b[memmapHeaderSize:]
	if entries > uint64(len(body))/memmapEntrySize {
		return nil, fmt.Errorf("memmap tag declares %d entries but holds %d bytes", entries, len(body))
	}

	m := make(MemoryMap, 0, entries)
	for i := uint64(0); i < entries; i++ {
		e := body[i*memmapEntrySize:]
		r := Region{
			Base:   hostarch.PhysAddr(binary.LittleEndian.Uint64(e[0:])),
			Length: binary.LittleEndian.Uint64(e[8:]),
			Kind:   Kind(binary.LittleEndian.Uint32(e[16:])),
		}
		if end := r.Base + hostarch.PhysAddr(r.Length); end < r.Base {
			return nil, fmt.Errorf("memmap entry %d: %#x+%#x overflows", i, uint64(r.Base), r.Length)
		}
		m = append(m, r)
	}
	return m, nil
}

// EncodeMemmapTag is the inverse of DecodeMemmapTag, with a zero next
// pointer.
func EncodeMemmapTag(m MemoryMap) []byte {
	b := make([]byte, memmapHeaderSize+len(m)*memmapEntrySize)
	binary.LittleEndian.PutUint64(b[0:], MemmapTagID)
	binary.LittleEndian.PutUint64(b[16:], uint64(len(m)))
	for i, r := range m {
		e := b[memmapHeaderSize+i*memmapEntrySize:]
		binary.LittleEndian.PutUint64(e[0:], uint64(r.Base))
		binary.LittleEndian.PutUint64(e[8:], r.Length)
		binary.LittleEndian.PutUint32(e[16:], uint32(r.Kind))
	}
	return b
}

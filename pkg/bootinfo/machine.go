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
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"misraos.dev/kmem/pkg/hostarch"
)

// hexUint64 is an address or length written as a TOML string, e.g.
// "0xffffffff80000000". TOML integers are signed and cannot hold the upper
// half of the address space.
type hexUint64 uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *hexUint64) UnmarshalText(text []byte) error {
	s := strings.ReplaceAll(strings.TrimSpace(string(text)), "_", "")
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", text, err)
	}
	*h = hexUint64(v)
	return nil
}

// machineFile is the on-disk layout of a machine description:
//
//	[kernel]
//	phys_base = "0x200000"
//	virt_base = "0xffffffff80000000"
//
//	[framebuffer]
//	address = "0xfd000000"
//	width = 1024
//	height = 768
//	pitch = 4096
//
//	[[region]]
//	base = "0x100000"
//	length = "0x7ee0000"
//	kind = "usable"
type machineFile struct {
	Kernel struct {
		PhysBase hexUint64 `toml:"phys_base"`
		VirtBase hexUint64 `toml:"virt_base"`
	} `toml:"kernel"`
	Framebuffer struct {
		Address hexUint64 `toml:"address"`
		Width   uint32    `toml:"width"`
		Height  uint32    `toml:"height"`
		Pitch   uint32    `toml:"pitch"`
	} `toml:"framebuffer"`
	Regions []struct {
		Base   hexUint64 `toml:"base"`
		Length hexUint64 `toml:"length"`
		Kind   Kind      `toml:"kind"`
	} `toml:"region"`
}

// LoadMachine reads a TOML machine description from path.
func LoadMachine(path string) (*BootInfo, error) {
	var mf machineFile
	md, err := toml.DecodeFile(path, &mf)
	if err != nil {
		return nil, fmt.Errorf("decoding machine file %q: %w", path, err)
	}
	bi, err := mf.bootInfo(md)
	if err != nil {
		return nil, fmt.Errorf("machine file %q: %w", path, err)
	}
	return bi, nil
}

// DecodeMachine reads a TOML machine description from r.
func DecodeMachine(r io.Reader) (*BootInfo, error) {
	var mf machineFile
	md, err := toml.NewDecoder(r).Decode(&mf)
	if err != nil {
		return nil, fmt.Errorf("decoding machine description: %w", err)
	}
	return mf.bootInfo(md)
}

func (mf *machineFile) bootInfo(md toml.MetaData) (*BootInfo, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys: %v", undecoded)
	}
	bi := &BootInfo{
		KernelPhysBase: hostarch.PhysAddr(mf.Kernel.PhysBase),
		KernelVirtBase: hostarch.Addr(mf.Kernel.VirtBase),
		Framebuffer: FramebufferInfo{
			Address: hostarch.PhysAddr(mf.Framebuffer.Address),
			Width:   mf.Framebuffer.Width,
			Height:  mf.Framebuffer.Height,
			Pitch:   mf.Framebuffer.Pitch,
		},
	}
	for i, r := range mf.Regions {
		if r.Kind == 0 {
			return nil, fmt.Errorf("region %d: missing kind", i)
		}
		bi.Memory = append(bi.Memory, Region{
			Base:   hostarch.PhysAddr(r.Base),
			Length: uint64(r.Length),
			Kind:   r.Kind,
		})
	}
	if err := bi.Memory.Validate(); err != nil {
		return nil, err
	}
	return bi, nil
}

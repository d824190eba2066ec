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
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"misraos.dev/kmem/pkg/hostarch"
)

func TestKindText(t *testing.T) {
	for _, test := range []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "usable", want: Usable},
		{in: "Framebuffer", want: Framebuffer},
		{in: " kernel_and_modules ", want: KernelAndModules},
		{in: "0x1000", want: BootloaderReclaimable},
		{in: "5", want: BadMemory},
		{in: "0x77", want: Kind(0x77)},
		{in: "ram", wantErr: true},
	} {
		t.Run(test.in, func(t *testing.T) {
			var k Kind
			err := k.UnmarshalText([]byte(test.in))
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("UnmarshalText(%q) error = %v, wantErr %t", test.in, err, test.wantErr)
			}
			if err == nil && k != test.want {
				t.Errorf("UnmarshalText(%q) = %v, want %v", test.in, k, test.want)
			}
		})
	}
	if got := Kind(0x77).String(); got != "Kind(0x77)" {
		t.Errorf("unknown kind String() = %q", got)
	}
	if !Usable.IsUsable() || ACPIReclaimable.IsUsable() || BootloaderReclaimable.IsUsable() {
		t.Errorf("only Usable regions may be usable")
	}
}

func TestMemoryMapAccounting(t *testing.T) {
	m := MemoryMap{
		{Base: 0x100000, Length: 0x10000, Kind: Usable},
		{Base: 0x110000, Length: 0x2000, Kind: Reserved},
		{Base: 0x200000, Length: 0x100000, Kind: Usable},
		{Base: 0x300000, Length: 0x100000, Kind: KernelAndModules},
	}
	if got, want := m.UsableBytes(), uint64(0x110000); got != want {
		t.Errorf("UsableBytes() = %#x, want %#x", got, want)
	}
	if got, want := m.ReservedBytes(), uint64(0x102000); got != want {
		t.Errorf("ReservedBytes() = %#x, want %#x", got, want)
	}
	if got, want := m.TotalBytes(), uint64(0x212000); got != want {
		t.Errorf("TotalBytes() = %#x, want %#x", got, want)
	}
	// Ties go to the earlier region, regardless of kind.
	if idx, ok := m.Largest(); !ok || idx != 2 {
		t.Errorf("Largest() = (%d, %t), want (2, true)", idx, ok)
	}
	if got, want := m.End(), hostarch.PhysAddr(0x400000); got != want {
		t.Errorf("End() = %v, want %v", got, want)
	}
	if _, ok := (MemoryMap{}).Largest(); ok {
		t.Errorf("Largest() on an empty map reported a region")
	}
}

func TestMemoryMapValidate(t *testing.T) {
	for name, m := range map[string]MemoryMap{
		"empty region": {{Base: 0x1000, Length: 0, Kind: Usable}},
		"wraps":        {{Base: ^hostarch.PhysAddr(0xfff), Length: 0x2000, Kind: Reserved}},
	} {
		if err := m.Validate(); err == nil {
			t.Errorf("%s: Validate() succeeded", name)
		}
	}
}

func TestMemoryMapValidateOverlap(t *testing.T) {
	for _, test := range []struct {
		name    string
		m       MemoryMap
		wantErr bool
	}{
		{
			name: "duplicate usable",
			m: MemoryMap{
				{Base: 0x100000, Length: 0x10000, Kind: Usable},
				{Base: 0x100000, Length: 0x10000, Kind: Usable},
			},
			wantErr: true,
		},
		{
			name: "usable inside usable",
			m: MemoryMap{
				{Base: 0x100000, Length: 0x10000, Kind: Usable},
				{Base: 0x104000, Length: 0x1000, Kind: Usable},
			},
			wantErr: true,
		},
		{
			name: "reserved inside usable",
			m: MemoryMap{
				{Base: 0x100000, Length: 0x10000, Kind: Usable},
				{Base: 0x108000, Length: 0x2000, Kind: Reserved},
			},
			wantErr: true,
		},
		{
			name: "usable straddles framebuffer",
			m: MemoryMap{
				{Base: 0xfd000000, Length: 0x300000, Kind: Framebuffer},
				{Base: 0xfc000000, Length: 0x1001000, Kind: Usable},
			},
			wantErr: true,
		},
		{
			name: "adjacent",
			m: MemoryMap{
				{Base: 0x100000, Length: 0x10000, Kind: Usable},
				{Base: 0x110000, Length: 0x10000, Kind: Usable},
				{Base: 0x120000, Length: 0x1000, Kind: Reserved},
			},
		},
		{
			name: "reserved kinds overlap",
			m: MemoryMap{
				{Base: 0x3000, Length: 0x2000, Kind: ACPINVS},
				{Base: 0x4000, Length: 0x2000, Kind: BadMemory},
				{Base: 0x10000, Length: 0x10000, Kind: Usable},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := test.m.Validate()
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Validate() = %v, wantErr %t", err, test.wantErr)
			}
			if test.wantErr && !errors.Is(err, ErrOverlappingRegions) {
				t.Errorf("Validate() = %v, want %v", err, ErrOverlappingRegions)
			}
		})
	}
}

func TestMemmapTagRoundTrip(t *testing.T) {
	want := MemoryMap{
		{Base: 0, Length: 0x9f000, Kind: Usable},
		{Base: 0x200000, Length: 0x40000, Kind: KernelAndModules},
		{Base: 0xfd000000, Length: 0x300000, Kind: Framebuffer},
	}
	b := EncodeMemmapTag(want)
	if got, wantLen := len(b), 24+3*24; got != wantLen {
		t.Fatalf("encoded tag is %d bytes, want %d", got, wantLen)
	}
	got, err := DecodeMemmapTag(b)
	if err != nil {
		t.Fatalf("DecodeMemmapTag failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded map mismatch (-want +got):\n%s", diff)
	}
}

func TestMemmapTagErrors(t *testing.T) {
	good := EncodeMemmapTag(MemoryMap{{Base: 0x1000, Length: 0x1000, Kind: Usable}})

	badID := append([]byte(nil), good...)
	badID[0] ^= 0xff

	short := good[:len(good)-1]

	overflow := EncodeMemmapTag(MemoryMap{{Base: ^hostarch.PhysAddr(0xfff), Length: 0x2000, Kind: Usable}})

	for name, b := range map[string][]byte{
		"header":     good[:10],
		"identifier": badID,
		"entries":    short,
		"overflow":   overflow,
	} {
		if _, err := DecodeMemmapTag(b); err == nil {
			t.Errorf("%s: DecodeMemmapTag succeeded", name)
		}
	}
}

func TestLoadMachine(t *testing.T) {
	bi, err := LoadMachine(filepath.Join("testdata", "qemu.toml"))
	if err != nil {
		t.Fatalf("LoadMachine failed: %v", err)
	}
	if got, want := len(bi.Memory), 7; got != want {
		t.Fatalf("got %d regions, want %d", got, want)
	}
	wantFB := FramebufferInfo{Address: 0xfd000000, Width: 1024, Height: 768, Pitch: 4096}
	if diff := cmp.Diff(wantFB, bi.Framebuffer); diff != "" {
		t.Errorf("framebuffer mismatch (-want +got):\n%s", diff)
	}
	if got, want := bi.Framebuffer.Size(), uint64(0x300000); got != want {
		t.Errorf("framebuffer Size() = %#x, want %#x", got, want)
	}
	phys, virt, ok := bi.KernelBases()
	if !ok || phys != 0x200000 || virt != hostarch.KernelVirtBase {
		t.Errorf("KernelBases() = (%v, %v, %t)", phys, virt, ok)
	}
	if diff := cmp.Diff(Region{Base: 0x240000, Length: 0x7dc0000, Kind: Usable}, bi.Memory[4]); diff != "" {
		t.Errorf("region 4 mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMachineErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":  "[kernel]\nphys_base = \"0x1000\"\nentry = \"0x1000\"\n",
		"bad address":  "[[region]]\nbase = \"zero\"\nlength = \"0x1000\"\nkind = \"usable\"\n",
		"missing kind": "[[region]]\nbase = \"0x0\"\nlength = \"0x1000\"\n",
		"bad kind":     "[[region]]\nbase = \"0x0\"\nlength = \"0x1000\"\nkind = \"ram\"\n",
		"zero length":  "[[region]]\nbase = \"0x0\"\nlength = \"0\"\nkind = \"usable\"\n",
	} {
		if _, err := DecodeMachine(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: DecodeMachine succeeded", name)
		}
	}
}

func TestKernelBasesFallback(t *testing.T) {
	bi := BootInfo{Memory: MemoryMap{
		{Base: 0x100000, Length: 0x1000, Kind: Usable},
		{Base: 0x400000, Length: 0x2000, Kind: KernelAndModules},
	}}
	phys, virt, ok := bi.KernelBases()
	if !ok || phys != 0x400000 || virt != hostarch.KernelVirtBase {
		t.Errorf("KernelBases() = (%v, %v, %t), want (0x400000, %v, true)", phys, virt, ok, hostarch.KernelVirtBase)
	}
	bi.Memory = bi.Memory[:1]
	if _, _, ok := bi.KernelBases(); ok {
		t.Errorf("KernelBases() without a kernel region reported a base")
	}
}

func TestLoadMachineMissing(t *testing.T) {
	_, err := LoadMachine(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("LoadMachine of a missing file = %v, want a not-exist error", err)
	}
}

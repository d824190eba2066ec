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
	"strconv"
	"strings"
)

// Kind classifies a memory map entry. The values are the boot protocol's
// type codes and are preserved verbatim.
type Kind uint32

// Memory map entry kinds.
const (
	Usable                Kind = 1
	Reserved              Kind = 2
	ACPIReclaimable       Kind = 3
	ACPINVS               Kind = 4
	BadMemory             Kind = 5
	BootloaderReclaimable Kind = 0x1000
	KernelAndModules      Kind = 0x1001
	Framebuffer           Kind = 0x1002
)

var kindNames = map[Kind]string{
	Usable:                "usable",
	Reserved:              "reserved",
	ACPIReclaimable:       "acpi_reclaimable",
	ACPINVS:               "acpi_nvs",
	BadMemory:             "bad_memory",
	BootloaderReclaimable: "bootloader_reclaimable",
	KernelAndModules:      "kernel_and_modules",
	Framebuffer:           "framebuffer",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%#x)", uint32(k))
}

// IsUsable returns true if frames of this kind may be handed out by the
// frame allocator. Every other kind counts as reserved.
func (k Kind) IsUsable() bool {
	return k == Usable
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts either a kind
// name or a numeric type code.
func (k *Kind) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, name := range kindNames {
		if s == name {
			*k = kind
			return nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid memory kind %q", text)
	}
	*k = Kind(v)
	return nil
}

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

// Package config provides basic infrastructure to set configuration settings
// for memsim. Each setting that can be changed from the command line must
// carry a `flag:"..."` tag naming the flag registered in RegisterFlags.
package config

import (
	"fmt"
	"os"

	"misraos.dev/kmem/pkg/addrspace"
	"misraos.dev/kmem/pkg/boot"
	"misraos.dev/kmem/pkg/bootinfo"
	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
)

// Config holds configuration that is not part of a machine description.
type Config struct {
	// Machine is the path to a TOML machine description.
	Machine string `flag:"machine"`

	// Memmap is the path to a raw stivale2 memory map tag. It is used when
	// Machine is empty.
	Memmap string `flag:"memmap"`

	// KernelPhysBase overrides the kernel load address of the machine. It
	// is the only way to give one to a bare memory map.
	KernelPhysBase uint64 `flag:"kernel-phys-base"`

	// MemorySize is the size of simulated physical memory. Zero sizes it
	// to the end of the memory map.
	MemorySize uint64 `flag:"memory-size"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json or console.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty.
	// %COMMAND% and %TIMESTAMP% are expanded.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for the debug log.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// DirectMap maps every region at HigherHalfOffset during bootstrap.
	DirectMap bool `flag:"direct-map"`

	// IdentityMap maps every region at its own physical address during
	// bootstrap.
	IdentityMap bool `flag:"identity-map"`
}

func validLogFormat(f string) bool {
	switch f {
	case "text", "json", "console":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if c.Machine != "" && c.Memmap != "" {
		return fmt.Errorf("only one of --machine and --memmap may be set")
	}
	if c.MemorySize%hostarch.PageSize != 0 {
		return fmt.Errorf("--memory-size %#x is not page aligned", c.MemorySize)
	}
	if !validLogFormat(c.LogFormat) {
		return fmt.Errorf("invalid --log-format %q", c.LogFormat)
	}
	if !validLogFormat(c.DebugLogFormat) {
		return fmt.Errorf("invalid --debug-log-format %q", c.DebugLogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Machine: %q, Memmap: %q, MemorySize: %#x", c.Machine, c.Memmap, c.MemorySize)
	log.Infof("Debug: %t, DirectMap: %t, IdentityMap: %t", c.Debug, c.DirectMap, c.IdentityMap)
	if c.KernelPhysBase != 0 {
		log.Infof("KernelPhysBase: %#x", c.KernelPhysBase)
	}
}

// BootOptions returns the options boot.Boot runs with.
func (c *Config) BootOptions() boot.Options {
	return boot.Options{
		Bootstrap: addrspace.BootstrapOptions{
			DirectMap:   c.DirectMap,
			IdentityMap: c.IdentityMap,
		},
		MemorySize: c.MemorySize,
	}
}

// LoadBootInfo reads the machine selected by --machine or --memmap.
func (c *Config) LoadBootInfo() (*bootinfo.BootInfo, error) {
	var info *bootinfo.BootInfo
	switch {
	case c.Machine != "":
		var err error
		info, err = bootinfo.LoadMachine(c.Machine)
		if err != nil {
			return nil, err
		}
	case c.Memmap != "":
		b, err := os.ReadFile(c.Memmap)
		if err != nil {
			return nil, fmt.Errorf("reading memory map tag: %w", err)
		}
		m, err := bootinfo.DecodeMemmapTag(b)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", c.Memmap, err)
		}
		info = &bootinfo.BootInfo{Memory: m}
	default:
		return nil, fmt.Errorf("one of --machine or --memmap is required")
	}
	if c.KernelPhysBase != 0 {
		info.KernelPhysBase = hostarch.PhysAddr(c.KernelPhysBase)
	}
	return info, nil
}

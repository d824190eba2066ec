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

package config

import (
	"flag"
	"fmt"
	"reflect"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Machine selection.
	flagSet.String("machine", "", "path to a TOML machine description.")
	flagSet.String("memmap", "", "path to a raw stivale2 memory map tag, used when --machine is not set.")
	flagSet.Uint64("kernel-phys-base", 0, "physical load address of the kernel image. Zero uses the machine's value or its first kernel_and_modules region.")
	flagSet.Uint64("memory-size", 0, "size in bytes of simulated physical memory. Zero sizes it to the end of the memory map.")

	// Logging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or console.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json, or console.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Bootstrap mapping policy.
	flagSet.Bool("direct-map", true, "map all of physical memory at the higher-half offset.")
	flagSet.Bool("identity-map", false, "map all of physical memory at its own address.")
}

// NewFromFlags creates a new Config with values coming from command line flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			panic(fmt.Sprintf("Flag %q does not implement flag.Getter", name))
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()))
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

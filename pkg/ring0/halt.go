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

package ring0

import (
	"fmt"

	"misraos.dev/kmem/pkg/log"
)

// Halted is the panic value raised by Halt.
type Halted struct {
	// Reason is the diagnostic emitted before halting.
	Reason string
}

// Error implements error.Error.
func (h *Halted) Error() string {
	return "cpu halted: " + h.Reason
}

// Halt emits a diagnostic and stops the processor. It never returns.
//
// There is no way to back out of a failed early boot step, so callers must
// not expect to continue. The simulation panics with a *Halted value.
func Halt(format string, v ...any) {
	reason := fmt.Sprintf(format, v...)
	log.Log().WarningfAtDepth(1, "%s; halting", reason)
	panic(&Halted{Reason: reason})
}

// CatchHalt runs fn and returns the *Halted it raised, or nil if fn returned
// normally. Any other panic propagates.
func CatchHalt(fn func()) (h *Halted) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var ok bool
		if h, ok = r.(*Halted); !ok {
			panic(r)
		}
	}()
	fn()
	return nil
}

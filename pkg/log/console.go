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

package log

import "time"

// ConsoleEmitter renders messages the way the early boot console does: a
// short status marker followed by the message, no timestamp.
//
//	[+] info
//	[-] warning
//	[*] debug
type ConsoleEmitter struct {
	Emitter
}

// Emit implements Emitter.Emit.
func (c ConsoleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var marker string
	switch level {
	case Warning:
		marker = "[-] "
	case Debug:
		marker = "[*] "
	default:
		marker = "[+] "
	}
	c.Emitter.Emit(depth+1, level, timestamp, marker+format+"\n", args...)
}

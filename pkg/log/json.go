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

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"time"
)

// jsonLog is one line of JSONEmitter output.
type jsonLog struct {
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Caller string    `json:"caller,omitempty"`
	Msg    string    `json:"msg"`
}

var levelNames = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %d", uint32(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the names
// MarshalText produces and decimal level numbers.
func (l *Level) UnmarshalText(b []byte) error {
	s := string(b)
	for i, name := range levelNames {
		if s == name {
			*l = Level(i)
			return nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n >= uint64(len(levelNames)) {
		return fmt.Errorf("unknown level %q", s)
	}
	*l = Level(n)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that bare numbers decode as
// well as names.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return l.UnmarshalText(b)
	}
	return l.UnmarshalText([]byte(s))
}

// JSONEmitter logs messages as one JSON object per line, with the caller in
// its own field.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	j := jsonLog{
		Time:  timestamp,
		Level: level,
		Msg:   fmt.Sprintf(format, v...),
	}
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		j.Caller = trimFile(file) + ":" + strconv.Itoa(line)
	}
	b, err := json.Marshal(j)
	if err != nil {
		// Only an unknown level gets here.
		b = []byte(fmt.Sprintf(`{"msg":%q}`, j.Msg))
	}
	e.Writer.Write(append(b, '\n'))
}

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

// Package cli is the main entrypoint for memsim.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"misraos.dev/kmem/memsim/cmd"
	"misraos.dev/kmem/memsim/cmd/util"
	"misraos.dev/kmem/memsim/config"
	"misraos.dev/kmem/pkg/hostarch"
	"misraos.dev/kmem/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Help and flags commands are generated automatically.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	var errorLogger io.Writer
	if conf.LogFilename != "" {
		errorLogger, err = os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
	}
	util.ErrorLogger = errorLogger

	// Set the start time as soon as possible.
	startTime := time.Now()
	subcommand := flag.CommandLine.Arg(0)

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if errorLogger != nil {
		emitters = append(emitters, newEmitter(conf.LogFormat, errorLogger))
		if conf.AlsoLogToStderr {
			emitters = append(emitters, newEmitter(conf.DebugLogFormat, os.Stderr))
		}
	} else {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}
	if len(conf.DebugLog) > 0 {
		f, err := log.OpenFile(conf.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, log.CommandPattern{Command: subcommand, Start: startTime})
		if err != nil {
			util.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.DebugLogFormat, f))
	}

	switch len(emitters) {
	case 1:
		// Single emitter, use it directly.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** memsim ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.GOOS, os.Getpid())
	log.Debugf("Page size: %#x (%d bytes), host page size %d", hostarch.PageSize, hostarch.PageSize, os.Getpagesize())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %v", subcmdCode)
		os.Exit(0)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by memsim.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.Regions), "")
	cb(new(cmd.Stats), "")
	cb(new(cmd.Translate), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "console":
		return log.ConsoleEmitter{Emitter: &log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text', 'json', or 'console'", format)
	panic("unreachable")
}

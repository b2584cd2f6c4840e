// Copyright 2024 The SMA Inverter Exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/smainverter/sma-inverter-exporter/exporter"
	"github.com/smainverter/sma-inverter-exporter/smaconfig"
)

var configFile = flag.String("config", smaconfig.DefaultPath, "Path to the inverter password INI file")

// verbosity is a repeatable -v counter, 0..4 selecting
// Error/Warn/Info/Debug/Trace, default 2 (Info) per spec §6.
type verbosity int

func (v *verbosity) String() string { return "" }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(string) error {
	if int(*v) < 4 {
		*v++
	}
	return nil
}

var verbosityFlag = verbosity(2)

func init() {
	const usage = "Increase log verbosity (repeatable, 0..4)"
	flag.Var(&verbosityFlag, "v", usage)
	flag.Var(&verbosityFlag, "verbosity", usage)
}

var levels = [...]log.Level{
	log.ErrorLevel,
	log.WarnLevel,
	log.InfoLevel,
	log.DebugLevel,
	log.TraceLevel,
}

func main() {
	flag.Parse()
	log.SetLevel(levels[verbosityFlag])
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := smaconfig.Load(*configFile)
	if err != nil {
		var cfgErr *smaconfig.ConfigError
		if errors.As(err, &cfgErr) {
			log.Fatalf("config: %v", err)
		}
		log.Fatalf("loading config: %v", err)
	}

	server := exporter.NewHTTPServer()
	go func() {
		log.Infof("serving metrics on %s", exporter.ListenAddr)
		if err := server.ListenAndServe(); err != nil {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	worker := exporter.NewWorker(cfg)
	if err := worker.Run(); err != nil {
		log.Fatalf("worker: %v", err)
	}
	os.Exit(0)
}

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

// Package smaconfig loads the per-inverter login password the exporter
// needs to authenticate, from an INI file keyed by inverter IP address.
package smaconfig

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// DefaultPath is where the exporter looks for its config file if none
// is given on the command line.
const DefaultPath = "/etc/sma_inverter_exporter.ini"

// DefaultPassword is the factory SMA user-class password, used for any
// inverter not named explicitly in the config file.
const DefaultPassword = "0000"

// Config maps an inverter's dotted-quad address to its login password.
// Every login performed from this config uses the user login class;
// the exporter only ever needs the metrics available to that class.
type Config struct {
	Passwords map[string]string
}

// ConfigError reports a malformed configuration file. Per spec §7 this
// is fatal: the process is expected to exit on receiving one.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("smaconfig: malformed config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads path and returns the inverter password map. A missing
// file is not an error: it yields an empty Config, and every inverter
// falls back to DefaultPassword. A present but unparseable file returns
// a *ConfigError.
func Load(path string) (*Config, error) {
	cfg := &Config{Passwords: make(map[string]string)}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	// Keys are flat "<ipv4>.password", living in the unnamed default
	// section rather than per-inverter sections.
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		const suffix = ".password"
		name := key.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		addr := name[:len(name)-len(suffix)]
		cfg.Passwords[addr] = key.String()
	}

	return cfg, nil
}

// Password returns the configured password for addr, or DefaultPassword
// if addr has no dedicated entry.
func (c *Config) Password(addr string) string {
	if p, ok := c.Passwords[addr]; ok {
		return p
	}
	return DefaultPassword
}

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

package inverter

import (
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/smainverter/sma-inverter-exporter/measure"
)

// dumpedRecord is the YAML-friendly projection of a measure.Record used
// only for trace logging.
type dumpedRecord struct {
	Channel   byte      `yaml:"channel"`
	Class     byte      `yaml:"class"`
	Timestamp string    `yaml:"timestamp"`
	Values    [4]uint32 `yaml:"values"`
}

// dumpRecordsTrace logs the raw records of a poll reply at trace level,
// one YAML document per call. It is the structured replacement for a
// raw hex dump: cheap to skip when trace logging is off, since the
// function checks the logger's level and returns before the marshal.
func dumpRecordsTrace(logger *log.Entry, opcode uint32, records []measure.Record) {
	if !logger.Logger.IsLevelEnabled(log.TraceLevel) {
		return
	}
	dumped := make([]dumpedRecord, len(records))
	for i, r := range records {
		dumped[i] = dumpedRecord{
			Channel:   r.Channel,
			Class:     r.Class,
			Timestamp: r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			Values:    r.Values,
		}
	}
	out, err := yaml.Marshal(dumped)
	if err != nil {
		logger.Tracef("opcode 0x%08x: failed to marshal %d records: %v", opcode, len(records), err)
		return
	}
	logger.Tracef("opcode 0x%08x records:\n%s", opcode, out)
}

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

// Package measure decodes SMA-Net2 reply bodies into physical
// measurements. It is the only component that knows what a register
// means: the table in this file maps an LRI to the channels and value
// slots a reply record carries and the conversion to the unit the
// metrics contract (spec §6) requires.
package measure

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/smainverter/sma-inverter-exporter/smanet2"
)

const recordLen = 28
const valueSlots = 4

// sentinel values meaning "no value" on the wire (spec §4.4).
const (
	sentinelAbsent    = 0x80000000
	sentinelAbsentAlt = 0xFFFFFFFF
)

// Record is one decoded 28-byte measurement record.
type Record struct {
	LRI       uint32
	Class     byte
	Channel   byte
	Timestamp time.Time
	Values    [valueSlots]uint32
}

// ParseRecords splits a reply payload into its constituent 28-byte
// records. The status byte and any command-specific framing preceding
// the record area must already have been stripped by the caller.
func ParseRecords(payload []byte) ([]Record, error) {
	if len(payload)%recordLen != 0 {
		return nil, &smanet2.Malformed{Field: "record"}
	}
	recs := make([]Record, 0, len(payload)/recordLen)
	for off := 0; off < len(payload); off += recordLen {
		r := payload[off : off+recordLen]
		var rec Record
		rec.LRI = binary.LittleEndian.Uint32(r[0:4])
		rec.Class = r[4]
		rec.Channel = r[5]
		// r[6:8] reserved
		rec.Timestamp = time.Unix(int64(binary.LittleEndian.Uint32(r[8:12])), 0)
		for i := 0; i < valueSlots; i++ {
			base := 12 + i*4
			rec.Values[i] = binary.LittleEndian.Uint32(r[base : base+4])
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Sample is a single decoded, converted value. Present is false when
// the slot held a sentinel and must not be published.
type Sample struct {
	Present bool
	Value   float64
}

func absent() Sample { return Sample{} }

func present(v float64) Sample { return Sample{Present: true, Value: v} }

// Field names a decoded quantity within a channel.
type Field struct {
	Name    string
	Slot    int
	Convert func(raw uint32) float64
}

// LRISpec describes how to interpret every record for a given LRI: how
// many channels to expect and, per channel, which value slots hold
// which physical quantities.
type LRISpec struct {
	LRI      uint32
	Channels int
	Fields   []Field
}

func signed(raw uint32) int32 { return int32(raw) }

// Temperature: raw / 10, in degrees Celsius (spec §3 invariant 4).
func ConvertTemperature(raw uint32) float64 { return float64(signed(raw)) / 10 }

// Battery and DC voltage: raw * 10, in millivolts.
func ConvertVoltage(raw uint32) float64 { return float64(signed(raw)) * 10 }

// Currents: raw as-is, in milliamperes.
func ConvertCurrent(raw uint32) float64 { return float64(signed(raw)) }

// Energy totals and state-of-charge percentage: raw as-is.
func ConvertDirect(raw uint32) float64 { return float64(raw) }

// Specs for the four required poll commands (spec §4.3 table).
var (
	BatteryInfo = LRISpec{
		LRI:      smanet2.CmdBatteryInfo,
		Channels: 3,
		Fields: []Field{
			{Name: "voltage", Slot: 0, Convert: ConvertVoltage},
			{Name: "current", Slot: 1, Convert: ConvertCurrent},
			{Name: "temperature", Slot: 2, Convert: ConvertTemperature},
		},
	}
	DCVoltage = LRISpec{
		LRI:      smanet2.CmdDCVoltage,
		Channels: 2,
		Fields: []Field{
			{Name: "voltage", Slot: 0, Convert: ConvertVoltage},
			{Name: "current", Slot: 1, Convert: ConvertCurrent},
		},
	}
	BatteryChargeStatus = LRISpec{
		LRI:      smanet2.CmdBatteryChargeStatus,
		Channels: 3,
		Fields: []Field{
			{Name: "soc", Slot: 0, Convert: ConvertDirect},
		},
	}
	EnergyProduction = LRISpec{
		LRI:      smanet2.CmdEnergyProduction,
		Channels: 1,
		Fields: []Field{
			{Name: "total", Slot: 0, Convert: ConvertDirect},
			{Name: "daily", Slot: 1, Convert: ConvertDirect},
		},
	}
)

// Decode converts the records for a single poll reply into a
// per-channel, per-field sample map, using spec to interpret the value
// slots. Channels beyond spec.Channels are ignored; a channel missing
// from the reply is simply absent from the result.
func Decode(records []Record, spec LRISpec) map[int]map[string]Sample {
	out := make(map[int]map[string]Sample, spec.Channels)
	for _, rec := range records {
		ch := int(rec.Channel)
		if ch >= spec.Channels {
			continue
		}
		fields := make(map[string]Sample, len(spec.Fields))
		for _, f := range spec.Fields {
			raw := rec.Values[f.Slot]
			if raw == sentinelAbsent || raw == sentinelAbsentAlt {
				fields[f.Name] = absent()
				continue
			}
			fields[f.Name] = present(f.Convert(raw))
		}
		out[ch] = fields
	}
	return out
}

// Lookup returns a named, converted sample for a channel, returning
// absent if the channel or field was not present in the reply.
func Lookup(samples map[int]map[string]Sample, channel int, name string) Sample {
	ch, ok := samples[channel]
	if !ok {
		return absent()
	}
	return ch[name]
}

func (s Sample) String() string {
	if !s.Present {
		return "absent"
	}
	return fmt.Sprintf("%g", s.Value)
}

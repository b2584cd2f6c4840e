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

package measure

import (
	"encoding/binary"
	"math"
	"testing"
)

// buildRecord assembles one 28-byte record for testing.
func buildRecord(lri uint32, class, channel byte, ts uint32, values [4]uint32) []byte {
	b := make([]byte, recordLen)
	binary.LittleEndian.PutUint32(b[0:4], lri)
	b[4] = class
	b[5] = channel
	binary.LittleEndian.PutUint32(b[8:12], ts)
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[12+i*4:16+i*4], v)
	}
	return b
}

func TestBatteryInfoDecode(t *testing.T) {
	var payload []byte
	// Temperature slots 0x154, 0x158, 0x15C little-endian -> 34.0, 34.4, 34.8 degC
	payload = append(payload, buildRecord(BatteryInfo.LRI, 0x01, 0, 0, [4]uint32{0, 0, 0x154, 0})...)
	payload = append(payload, buildRecord(BatteryInfo.LRI, 0x01, 1, 0, [4]uint32{0, 0, 0x158, 0})...)
	payload = append(payload, buildRecord(BatteryInfo.LRI, 0x01, 2, 0, [4]uint32{0, 0, 0x15C, 0})...)

	recs, err := ParseRecords(payload)
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	samples := Decode(recs, BatteryInfo)

	want := []float64{34.0, 34.4, 34.8}
	for ch, w := range want {
		s := Lookup(samples, ch, "temperature")
		if !s.Present {
			t.Fatalf("channel %d temperature absent", ch)
		}
		if math.Abs(s.Value-w) > 1e-9 {
			t.Errorf("channel %d temperature = %v, want %v", ch, s.Value, w)
		}
	}
}

func TestSentinelDecodesToAbsent(t *testing.T) {
	for _, sentinel := range []uint32{sentinelAbsent, sentinelAbsentAlt} {
		payload := buildRecord(BatteryChargeStatus.LRI, 0x01, 0, 0, [4]uint32{sentinel, 0, 0, 0})
		recs, err := ParseRecords(payload)
		if err != nil {
			t.Fatalf("ParseRecords: %v", err)
		}
		samples := Decode(recs, BatteryChargeStatus)
		s := Lookup(samples, 0, "soc")
		if s.Present {
			t.Errorf("sentinel 0x%08x decoded as present (%v), want absent", sentinel, s.Value)
		}
	}
}

func TestConversionRangeAtExtremes(t *testing.T) {
	fields := []Field{
		{Name: "voltage", Slot: 0, Convert: ConvertVoltage},
		{Name: "current", Slot: 0, Convert: ConvertCurrent},
		{Name: "temperature", Slot: 0, Convert: ConvertTemperature},
		{Name: "direct", Slot: 0, Convert: ConvertDirect},
	}
	for _, raw := range []uint32{0, 0xFFFFFFFE} {
		for _, f := range fields {
			v := f.Convert(raw)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%s.Convert(0x%08x) = %v, want finite", f.Name, raw, v)
			}
		}
	}
}

func TestParseRecordsRejectsShortPayload(t *testing.T) {
	_, err := ParseRecords(make([]byte, recordLen-1))
	if err == nil {
		t.Fatalf("expected error for non-multiple-of-28 payload")
	}
}

func TestDecodeDCVoltageTwoStrings(t *testing.T) {
	var payload []byte
	payload = append(payload, buildRecord(DCVoltage.LRI, 0x01, 0, 0, [4]uint32{2500, 1000, 0, 0})...)
	payload = append(payload, buildRecord(DCVoltage.LRI, 0x01, 1, 0, [4]uint32{2600, 1100, 0, 0})...)

	recs, err := ParseRecords(payload)
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	samples := Decode(recs, DCVoltage)
	if v := Lookup(samples, 0, "voltage").Value; v != 25000 {
		t.Errorf("string 1 voltage = %v, want 25000", v)
	}
	if c := Lookup(samples, 1, "current").Value; c != 1100 {
		t.Errorf("string 2 current = %v, want 1100", c)
	}
}

func TestDecodeEnergyProduction(t *testing.T) {
	payload := buildRecord(EnergyProduction.LRI, 0x01, 0, 0, [4]uint32{123456, 789, 0, 0})
	recs, err := ParseRecords(payload)
	if err != nil {
		t.Fatalf("ParseRecords: %v", err)
	}
	samples := Decode(recs, EnergyProduction)
	if v := Lookup(samples, 0, "total").Value; v != 123456 {
		t.Errorf("total = %v, want 123456", v)
	}
	if v := Lookup(samples, 0, "daily").Value; v != 789 {
		t.Errorf("daily = %v, want 789", v)
	}
}

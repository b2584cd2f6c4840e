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

package smanet2

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hdr := Header{
		Dest:       NewAddr(1234, 5678),
		DestSusyID: 1234,
		Src:        NewAddr(125, 987654321),
		SrcSusyID:  125,
		Counter:    RequestCounterBit | 3,
		Control:    [2]byte{0xA0, 0x00},
	}
	body := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x01, 0x02, 0x03}
	buf := Encode(hdr, CmdBatteryInfo, body)

	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Opcode != CmdBatteryInfo {
		t.Errorf("opcode = 0x%08x, want 0x%08x", f.Opcode, CmdBatteryInfo)
	}
	if f.Header.Counter != hdr.Counter {
		t.Errorf("counter = 0x%04x, want 0x%04x", f.Header.Counter, hdr.Counter)
	}
	if f.Header.Dest != hdr.Dest || f.Header.Src != hdr.Src {
		t.Errorf("addresses did not round-trip: dest %v src %v", f.Header.Dest, f.Header.Src)
	}
	if f.Header.Control != hdr.Control {
		t.Errorf("control flags did not round-trip: %v, want %v", f.Header.Control, hdr.Control)
	}
	// Padding must bring the body up to a 4-byte boundary.
	if !bytes.HasPrefix(f.Payload, body) {
		t.Errorf("payload prefix = %x, want prefix %x", f.Payload, body)
	}
	if len(f.Payload)%4 != 0 {
		t.Errorf("payload length %d is not a multiple of 4", len(f.Payload))
	}
}

func TestDecodeMalformed(t *testing.T) {
	good := Encode(Header{Counter: RequestCounterBit}, CmdLogin, []byte{1, 2, 3, 4})

	cases := []struct {
		name  string
		alter func([]byte) []byte
		field string
	}{
		{"bad magic", func(b []byte) []byte {
			b2 := append([]byte(nil), b...)
			b2[0] = 'X'
			return b2
		}, "magic"},
		{"truncated", func(b []byte) []byte {
			return b[:len(b)-10]
		}, "length"},
		{"declared length too large", func(b []byte) []byte {
			b2 := append([]byte(nil), b...)
			b2[12] = 0xFF
			b2[13] = 0xFF
			return b2
		}, "length"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.alter(good))
			if err == nil {
				t.Fatalf("expected error")
			}
			var m *Malformed
			if !errors.As(err, &m) {
				t.Fatalf("error %v is not *Malformed", err)
			}
			if m.Field != c.field {
				t.Errorf("field = %q, want %q", m.Field, c.field)
			}
		})
	}
}

func TestObfuscatePassword(t *testing.T) {
	got := ObfuscatePassword("0000", ClassUser)
	want := [12]byte{0xB8, 0xB8, 0xB8, 0xB8, 0x88, 0x88, 0x88, 0x88, 0x88, 0x88, 0x88, 0x88}
	if got != want {
		t.Errorf("ObfuscatePassword(\"0000\", user) = % X, want % X", got, want)
	}
}

func TestMatchesReply(t *testing.T) {
	req := CmdEnergyProduction
	reply := ReplyOpcode(req)
	if !MatchesReply(req, reply) {
		t.Errorf("MatchesReply(%x, %x) = false, want true", req, reply)
	}
	if MatchesReply(req, CmdDCVoltage) {
		t.Errorf("MatchesReply should reject an unrelated opcode")
	}
}

func TestDiscoveryProbeIsExact(t *testing.T) {
	want := []byte{
		0x53, 0x4D, 0x41, 0x00, 0x00, 0x04, 0x02, 0xA0, 0xFF, 0xFF,
		0xFF, 0xFF, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(DiscoveryProbe, want) {
		t.Errorf("DiscoveryProbe = % X, want % X", DiscoveryProbe, want)
	}
	if len(DiscoveryProbe) != 20 {
		t.Errorf("len(DiscoveryProbe) = %d, want 20", len(DiscoveryProbe))
	}
}

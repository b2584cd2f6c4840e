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
	"net"

	"github.com/google/uuid"

	"github.com/smainverter/sma-inverter-exporter/smanet2"
	"github.com/smainverter/sma-inverter-exporter/transport"
)

// Address is the transport-level identity of a discovered inverter: an
// IPv4 address plus the fixed protocol port. It both addresses the
// device and labels the metrics derived from it.
type Address struct {
	IP net.IP
}

// UDPAddr returns the net.UDPAddr to send requests to.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: transport.Port}
}

func (a Address) String() string { return a.IP.String() }

// State is the lifecycle state of an Inverter session (spec §3).
type State int

const (
	// Discovered means the transport address is known but there is no
	// active session.
	Discovered State = iota
	// Authenticated means login succeeded and SessionID/Counter are
	// valid.
	Authenticated
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SessionCounter is the monotonically increasing 16-bit value scoped to
// one session with one inverter (spec §3 invariant 1). It starts at
// 0x8000 (the high bit that marks client-originated requests) and
// increments by one per sent request.
type SessionCounter uint16

const initialCounter SessionCounter = SessionCounter(smanet2.RequestCounterBit)

// Next returns the counter value for the next outbound request. The
// high bit is re-asserted on every increment: it must remain set for
// the whole session (spec §4.3).
func (c SessionCounter) Next() SessionCounter {
	return (c + 1) | SessionCounter(smanet2.RequestCounterBit)
}

// SessionID is the 4-byte token an inverter assigns at login.
type SessionID [4]byte

// LocalAddress is the 6-byte identifier the client synthesizes at
// startup and uses as its source address in the protocol header. It
// must be stable for the lifetime of a session and distinct from any
// inverter's own address; the exporter mints a new one for each
// discovery pass.
type LocalAddress [6]byte

// NewLocalAddress derives an arbitrary 6-byte address from a fresh
// random UUID, truncated to 6 bytes with the locally-administered bit
// set on the first byte. Only bytes 2..6 reach the wire, as the serial
// half of the source address (see localSerial); the susy-id half is
// always LocalSusyID.
func NewLocalAddress() LocalAddress {
	id := uuid.New()
	var a LocalAddress
	copy(a[:], id[:6])
	a[0] |= 0x02
	return a
}

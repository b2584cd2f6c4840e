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

// Package inverter implements the per-device SMA-Net2 session state
// machine: discovery, challenge/response login, request/reply
// correlation for polling, and logoff. It owns exactly one session with
// exactly one inverter, and is used from a single goroutine per spec §5.
package inverter

import (
	"encoding/binary"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/smainverter/sma-inverter-exporter/measure"
	"github.com/smainverter/sma-inverter-exporter/smanet2"
	"github.com/smainverter/sma-inverter-exporter/transport"
)

// DiscoveryWindow is how long Discover listens for discovery
// replies after sending the probe (spec §4.3, §9).
const DiscoveryWindow = 100 * time.Millisecond

// LocalSusyID is the application system id this client identifies
// itself with, a fixed value in the SMA susy-id namespace reserved for
// third-party tooling.
const LocalSusyID uint16 = 125

const loginTimeoutSeconds uint32 = 900

// Discover sends the SMA-Net2 multicast probe and collects replies for
// DiscoveryWindow, returning the set of unique inverter addresses found.
func Discover(tr *transport.Transport) ([]Address, error) {
	if err := tr.SendTo(transport.MulticastAddr(), smanet2.DiscoveryProbe); err != nil {
		return nil, &IOError{Err: err}
	}
	deadline := time.Now().Add(DiscoveryWindow)
	seen := make(map[string]bool)
	var found []Address
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		buf, src, ok, err := tr.Recv(remain)
		if err != nil {
			return found, &IOError{Err: err}
		}
		if !ok {
			break
		}
		if len(buf) != smanet2.DiscoveryReplyLen {
			continue
		}
		ip := net.IPv4(buf[38], buf[39], buf[40], buf[41])
		if src == nil || !src.IP.Equal(ip) {
			log.Debugf("discovery: reply source %v does not match embedded address %v, discarding", src, ip)
			continue
		}
		key := ip.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		found = append(found, Address{IP: ip})
		log.Infof("discovery: found inverter at %s", ip)
	}
	return found, nil
}

// Session is the authenticated state for one inverter.
type Session struct {
	tr    *transport.Transport
	addr  Address
	local LocalAddress

	state      State
	counter    SessionCounter
	sessionID  SessionID
	remoteAddr smanet2.Addr
	remoteSusy uint16

	logger *log.Entry
}

// loginErrorKind maps the login reply's error subfield to an
// AuthFailedKind.
func loginErrorKind(code uint32) AuthFailedKind {
	switch code {
	case 1:
		return WrongPassword
	case 2:
		return Locked
	default:
		return UnsupportedLoginClass
	}
}

// Login performs discovery-to-authenticated login against addr,
// producing an authenticated Session. password is obfuscated per spec
// §4.3; class is smanet2.ClassUser or smanet2.ClassInstaller.
func Login(tr *transport.Transport, addr Address, local LocalAddress, password string, class uint32) (*Session, error) {
	logger := log.WithField("inverter", addr.String())

	body := make([]byte, 0, 24)
	body = appendUint32(body, class)
	body = appendUint32(body, loginTimeoutSeconds)
	body = appendUint32(body, uint32(time.Now().Unix()))
	pw := smanet2.ObfuscatePassword(password, class)
	body = append(body, pw[:]...)

	counter := initialCounter
	hdr := smanet2.Header{
		Dest:       smanet2.UnknownAddr,
		DestSusyID: 0xFFFF,
		Src:        smanet2.NewAddr(LocalSusyID, localSerial(local)),
		SrcSusyID:  LocalSusyID,
		Counter:    uint16(counter),
		Control:    [2]byte{0xA0, 0x00},
	}
	buf := smanet2.Encode(hdr, smanet2.CmdLogin, body)
	if err := tr.SendTo(addr.UDPAddr(), buf); err != nil {
		return nil, &IOError{Err: err}
	}

	frame, err := waitReply(tr, smanet2.CmdLogin, uint16(counter), addr.IP, nil, transport.DefaultDeadline)
	if err != nil {
		return nil, err
	}
	if len(frame.Payload) < 14 {
		return nil, &smanet2.Malformed{Field: "login reply"}
	}
	errCode := binary.LittleEndian.Uint32(frame.Payload[0:4])
	if errCode != 0 {
		kind := loginErrorKind(errCode)
		logger.Warnf("login rejected: %s", kind)
		return nil, &AuthFailedError{Kind: kind}
	}
	remoteSusy := binary.LittleEndian.Uint16(frame.Payload[4:6])
	remoteSerial := binary.LittleEndian.Uint32(frame.Payload[6:10])
	var sessionID SessionID
	copy(sessionID[:], frame.Payload[10:14])

	logger.Infof("login succeeded, susy-id %d serial %d", remoteSusy, remoteSerial)
	return &Session{
		tr:         tr,
		addr:       addr,
		local:      local,
		state:      Authenticated,
		counter:    initialCounter,
		sessionID:  sessionID,
		remoteAddr: smanet2.NewAddr(remoteSusy, remoteSerial),
		remoteSusy: remoteSusy,
		logger:     logger,
	}, nil
}

func localSerial(l LocalAddress) uint32 {
	return binary.LittleEndian.Uint32(l[2:6])
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Address is the inverter this session belongs to.
func (s *Session) Address() Address { return s.addr }

// poll sends a single (LRI_start, LRI_end, class) read request and
// returns the decoded records from its reply. It advances the session
// counter unconditionally, even on timeout (spec §4.3).
func (s *Session) poll(opcode, lriStart, lriEnd, class uint32) ([]measure.Record, error) {
	s.counter = s.counter.Next()

	body := make([]byte, 0, 12)
	body = appendUint32(body, lriStart)
	body = appendUint32(body, lriEnd)
	body = appendUint32(body, class)

	hdr := smanet2.Header{
		Dest:       s.remoteAddr,
		DestSusyID: s.remoteSusy,
		Src:        smanet2.NewAddr(LocalSusyID, localSerial(s.local)),
		SrcSusyID:  LocalSusyID,
		Counter:    uint16(s.counter),
		Control:    [2]byte{0xA0, 0x00},
	}
	buf := smanet2.Encode(hdr, opcode, body)
	if err := s.tr.SendTo(s.addr.UDPAddr(), buf); err != nil {
		s.state = Discovered
		return nil, &IOError{Err: err}
	}

	remote := s.remoteAddr
	frame, err := waitReply(s.tr, opcode, uint16(s.counter), s.addr.IP, &remote, transport.DefaultDeadline)
	if err != nil {
		if _, isIO := err.(*IOError); isIO {
			s.state = Discovered
		}
		return nil, err
	}
	if len(frame.Payload) < 4 {
		return nil, &smanet2.Malformed{Field: "poll reply"}
	}
	status := frame.Payload[0]
	if status == 0x07 {
		return nil, ErrUnsupported
	}
	if status != 0x00 {
		return nil, &smanet2.Malformed{Field: "poll status"}
	}
	records, err := measure.ParseRecords(frame.Payload[4:])
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("poll 0x%08x: %d records", opcode, len(records))
	dumpRecordsTrace(s.logger, opcode, records)
	return records, nil
}

// BatteryInfo polls the battery voltage/current/temperature block.
func (s *Session) BatteryInfo() (map[int]map[string]measure.Sample, error) {
	recs, err := s.poll(smanet2.CmdBatteryInfo, measure.BatteryInfo.LRI, measure.BatteryInfo.LRI, 0)
	if err != nil {
		return nil, err
	}
	return measure.Decode(recs, measure.BatteryInfo), nil
}

// DCVoltage polls the spot DC voltage/current block.
func (s *Session) DCVoltage() (map[int]map[string]measure.Sample, error) {
	recs, err := s.poll(smanet2.CmdDCVoltage, measure.DCVoltage.LRI, measure.DCVoltage.LRI, 0)
	if err != nil {
		return nil, err
	}
	return measure.Decode(recs, measure.DCVoltage), nil
}

// BatteryChargeStatus polls the state-of-charge block.
func (s *Session) BatteryChargeStatus() (map[int]map[string]measure.Sample, error) {
	recs, err := s.poll(smanet2.CmdBatteryChargeStatus, measure.BatteryChargeStatus.LRI, measure.BatteryChargeStatus.LRI, 0)
	if err != nil {
		return nil, err
	}
	return measure.Decode(recs, measure.BatteryChargeStatus), nil
}

// EnergyProduction polls the metering totals block.
func (s *Session) EnergyProduction() (map[int]map[string]measure.Sample, error) {
	recs, err := s.poll(smanet2.CmdEnergyProduction, measure.EnergyProduction.LRI, measure.EnergyProduction.LRI, 0)
	if err != nil {
		return nil, err
	}
	return measure.Decode(recs, measure.EnergyProduction), nil
}

// Logoff sends the terminate-session message. No reply is expected; the
// session returns to Discovered regardless of whether the datagram is
// acknowledged.
func (s *Session) Logoff() error {
	s.counter = s.counter.Next()
	hdr := smanet2.Header{
		Dest:       s.remoteAddr,
		DestSusyID: s.remoteSusy,
		Src:        smanet2.NewAddr(LocalSusyID, localSerial(s.local)),
		SrcSusyID:  LocalSusyID,
		Counter:    uint16(s.counter),
		Control:    [2]byte{0xA0, 0x00},
	}
	buf := smanet2.Encode(hdr, smanet2.CmdLogoff, appendUint32(nil, 0xFFFFFFFF))
	err := s.tr.SendTo(s.addr.UDPAddr(), buf)
	s.state = Discovered
	s.sessionID = SessionID{}
	if err != nil {
		return &IOError{Err: err}
	}
	return nil
}

// waitReply reads datagrams until one matches the correlation rule in
// spec §4.3, or the deadline expires.
//
//  1. magic/structure valid (enforced by smanet2.Decode)
//  2. opcode matches wantOpcode once the reply bit is masked off
//  3. packet counter equals wantCounter
//  4. UDP source equals wantIP, and — once known — the frame's protocol
//     source address equals *wantRemote
//
// Any other datagram is a stray packet and is silently discarded; the
// loop keeps reading until the deadline.
func waitReply(tr *transport.Transport, wantOpcode uint32, wantCounter uint16, wantIP net.IP, wantRemote *smanet2.Addr, deadline time.Duration) (smanet2.Frame, error) {
	until := time.Now().Add(deadline)
	for {
		remain := time.Until(until)
		if remain <= 0 {
			return smanet2.Frame{}, ErrTimeout
		}
		buf, src, ok, err := tr.Recv(remain)
		if err != nil {
			return smanet2.Frame{}, &IOError{Err: err}
		}
		if !ok {
			return smanet2.Frame{}, ErrTimeout
		}
		if src == nil || !src.IP.Equal(wantIP) {
			continue
		}
		frame, err := smanet2.Decode(buf)
		if err != nil {
			continue
		}
		if !smanet2.MatchesReply(wantOpcode, frame.Opcode) {
			continue
		}
		if frame.Header.Counter != wantCounter {
			continue
		}
		if wantRemote != nil && frame.Header.Src != *wantRemote {
			continue
		}
		return frame, nil
	}
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

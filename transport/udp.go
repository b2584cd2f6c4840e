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

// Package transport provides the single UDP endpoint the SMA-Net2 client
// uses for both unicast request/reply traffic and the multicast
// discovery rendezvous. It knows nothing about the protocol it carries.
package transport

import (
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Port is the well-known SMA-Net2 port. Some inverter firmware only
// replies to requests sent from this port, so the transport binds to it
// as its source port too (spec §9 open question).
const Port = 9522

// MulticastGroup is the IPv4 multicast rendezvous address inverters
// listen on for discovery probes.
var MulticastGroup = net.IPv4(239, 12, 255, 254)

const maxDatagram = 8 * 1024

// DefaultDeadline is the receive deadline applied when the caller does
// not supply one.
const DefaultDeadline = 1 * time.Second

// Transport is a bound UDP endpoint supporting unicast send/recv and an
// optional multicast group join.
type Transport struct {
	conn *net.UDPConn
}

// Open binds a UDP socket to 0.0.0.0:9522 with SO_REUSEADDR set, so that
// multiple inverters and the exporter process can coexist on the same
// host. If join is true, the socket also joins MulticastGroup on the
// unspecified interface, for use during discovery.
func Open(join bool) (*Transport, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(Port))
	pc, err := lc.ListenPacket(nil, "udp4", addr)
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)
	t := &Transport{conn: conn}
	if join {
		if err := t.joinMulticast(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return t, nil
}

// FromConn wraps an already-bound UDP connection as a Transport. It
// exists for tests that need a loopback socket pair instead of the
// fixed protocol port that Open always binds to.
func FromConn(conn *net.UDPConn) *Transport {
	return &Transport{conn: conn}
}

func (t *Transport) joinMulticast() error {
	pc := ipv4.NewPacketConn(t.conn)
	return pc.JoinGroup(nil, &net.UDPAddr{IP: MulticastGroup})
}

// MulticastAddr returns the destination address for a discovery probe.
func MulticastAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: MulticastGroup, Port: Port}
}

// SendTo writes b to addr.
func (t *Transport) SendTo(addr *net.UDPAddr, b []byte) error {
	_, err := t.conn.WriteToUDP(b, addr)
	return err
}

// Recv reads the next datagram, waiting at most deadline. If nothing
// arrives in time it returns ok=false with a nil error: the caller
// distinguishes silence ("no packet") from I/O failure this way, per
// spec §4.2.
func (t *Transport) Recv(deadline time.Duration) (b []byte, src *net.UDPAddr, ok bool, err error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, nil, false, err
	}
	buf := make([]byte, maxDatagram)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	return buf[:n], addr, true, nil
}

// Close releases the socket. It must run on every exit path, including
// error paths (spec §5).
func (t *Transport) Close() error {
	return t.conn.Close()
}

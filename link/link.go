// Package link carries Ethernet frames between simulated hosts over UDP
// sockets, the same virtual-topology-over-UDP transport the teacher's
// lnxconfig-driven IP stack used (one UDP socket per interface, frames
// written to every neighbor sharing that interface's simulated wire).
package link

import (
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/hash-roar/minnow/config"
	"github.com/hash-roar/minnow/netif"
)

// Socket is the UDP transport for a single netif.Interface.
type Socket struct {
	ifaceName string
	conn      *net.UDPConn
	neighbors []*net.UDPAddr
}

// Dial opens the UDP socket for spec and resolves its neighbors.
func Dial(ifaceName string, spec config.LinkSpec) (*Socket, error) {
	localAddr, err := net.ResolveUDPAddr("udp4", spec.ListenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve listen addr %s for %s", spec.ListenAddr, ifaceName)
	}
	conn, err := net.ListenUDP("udp4", localAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s for %s", spec.ListenAddr, ifaceName)
	}

	neighbors := make([]*net.UDPAddr, 0, len(spec.Neighbors))
	for _, n := range spec.Neighbors {
		addr, err := net.ResolveUDPAddr("udp4", n)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "resolve neighbor %s for %s", n, ifaceName)
		}
		neighbors = append(neighbors, addr)
	}

	return &Socket{ifaceName: ifaceName, conn: conn, neighbors: neighbors}, nil
}

// Close releases the underlying UDP socket.
func (s *Socket) Close() error { return s.conn.Close() }

// Broadcast writes frame to every neighbor on this simulated wire, the
// way a shared Ethernet segment delivers a frame to every attached
// host; filtering by destination address happens on the receiving end.
func (s *Socket) Broadcast(frame []byte) {
	for _, addr := range s.neighbors {
		if _, err := s.conn.WriteToUDP(frame, addr); err != nil {
			log.Warn().Err(err).Str("interface", s.ifaceName).Str("peer", addr.String()).Msg("failed to send frame")
		}
	}
}

// DrainAndSend pops every frame ready on iface and broadcasts it.
func (s *Socket) DrainAndSend(iface *netif.Interface) {
	for {
		frame, ok := iface.MaybeSend()
		if !ok {
			return
		}
		s.Broadcast(frame)
	}
}

// RecvLoop blocks reading frames from the socket and hands each one to
// handle, until the socket is closed.
func (s *Socket) RecvLoop(handle func(frame []byte)) error {
	buf := make([]byte, 65535)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return errors.Wrapf(err, "read on %s", s.ifaceName)
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		handle(frame)
	}
}

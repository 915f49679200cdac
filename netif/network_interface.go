// Package netif implements the link layer: turning outbound IPv4
// datagrams into Ethernet frames (resolving next-hop addresses via ARP,
// queuing datagrams while a resolution is pending) and turning inbound
// frames back into datagrams, learning and answering ARP along the way.
package netif

import (
	"net"
	"net/netip"
	"sync"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/hash-roar/minnow/pq"
)

const (
	// arpCacheTimeoutMs is how long a learned Ethernet/IP mapping stays
	// valid before it must be re-resolved.
	arpCacheTimeoutMs = 30_000
	// arpRequestTimeoutMs is how long a pending ARP request is left
	// outstanding before another one may be sent for the same IP.
	arpRequestTimeoutMs = 5_000
)

var broadcastAddress = tcpip.LinkAddress("\xff\xff\xff\xff\xff\xff")

// Datagram is an IPv4 datagram moving through the interface: a parsed
// header plus its payload, mirroring the teacher's IPPacket.
type Datagram struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

type arpCacheEntry struct {
	ethernetAddr tcpip.LinkAddress
	learnedAtMs  uint64
}

// Interface is one host-side network interface: an Ethernet/IP address
// pair, an ARP cache, and queues for frames awaiting transmission and
// datagrams awaiting ARP resolution.
type Interface struct {
	name         string
	ethernetAddr tcpip.LinkAddress
	ipAddr       netip.Addr

	mu sync.Mutex // guards everything below; SendDatagram/RecvFrame/Tick/MaybeSend all run from independent goroutines

	arpCache         map[uint32]arpCacheEntry
	arpCacheExpiry   *pq.AgeQueue
	pendingRequests  map[uint32]uint64
	pendingReqExpiry *pq.AgeQueue
	pendingDatagrams map[uint32][]Datagram
	framesToSend     [][]byte
	currentTimeMs    uint64
}

// New creates an interface with the given name and addresses. It has no
// routes or peers configured; those are supplied externally by a Router
// or a config-driven topology.
func New(name string, ethernetAddr net.HardwareAddr, ipAddr netip.Addr) *Interface {
	iface := &Interface{
		name:             name,
		ethernetAddr:     tcpip.LinkAddress(ethernetAddr),
		ipAddr:           ipAddr,
		arpCache:         make(map[uint32]arpCacheEntry),
		arpCacheExpiry:   pq.NewAgeQueue(),
		pendingRequests:  make(map[uint32]uint64),
		pendingReqExpiry: pq.NewAgeQueue(),
		pendingDatagrams: make(map[uint32][]Datagram),
	}
	log.Info().
		Str("interface", name).
		Str("ethernet", ethernetAddr.String()).
		Str("ip", ipAddr.String()).
		Msg("network interface has Ethernet and IP address")
	return iface
}

// Name returns the interface's configured name.
func (iface *Interface) Name() string { return iface.name }

// IPAddr returns the interface's own IPv4 address.
func (iface *Interface) IPAddr() netip.Addr { return iface.ipAddr }

func ipToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToIP(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// SendDatagram queues dgram for transmission to nextHop, resolving its
// Ethernet address via ARP first if it is not already cached.
func (iface *Interface) SendDatagram(dgram Datagram, nextHop netip.Addr) error {
	iface.mu.Lock()
	defer iface.mu.Unlock()

	nextHopIP := ipToUint32(nextHop)

	if entry, ok := iface.arpCache[nextHopIP]; ok {
		frame, err := iface.encodeIPv4Frame(entry.ethernetAddr, dgram)
		if err != nil {
			return errors.Wrap(err, "encode ipv4 frame")
		}
		iface.framesToSend = append(iface.framesToSend, frame)
		return nil
	}

	iface.pendingDatagrams[nextHopIP] = append(iface.pendingDatagrams[nextHopIP], dgram)

	if _, pending := iface.pendingRequests[nextHopIP]; pending {
		return nil
	}

	arpFrame, err := iface.encodeARPRequest(nextHop)
	if err != nil {
		return errors.Wrap(err, "encode arp request")
	}
	iface.framesToSend = append(iface.framesToSend, arpFrame)
	iface.pendingRequests[nextHopIP] = iface.currentTimeMs
	iface.pendingReqExpiry.Insert(keyForIP(nextHopIP), iface.currentTimeMs)
	return nil
}

// RecvFrame processes an inbound Ethernet frame: an IPv4 frame is
// returned to the caller (typically a Router); an ARP frame updates the
// cache and is answered or drained internally, returning nothing.
func (iface *Interface) RecvFrame(frame []byte) (Datagram, bool, error) {
	iface.mu.Lock()
	defer iface.mu.Unlock()

	if len(frame) < header.EthernetMinimumSize {
		return Datagram{}, false, errors.New("frame shorter than ethernet header")
	}
	eth := header.Ethernet(frame)
	if eth.DestinationAddress() != iface.ethernetAddr && eth.DestinationAddress() != broadcastAddress {
		return Datagram{}, false, nil
	}

	payload := frame[header.EthernetMinimumSize:]

	switch eth.Type() {
	case header.IPv4ProtocolNumber:
		dgram, err := parseDatagram(payload)
		if err != nil {
			return Datagram{}, false, errors.Wrap(err, "parse ipv4 datagram")
		}
		return dgram, true, nil
	case header.ARPProtocolNumber:
		iface.handleARP(payload)
		return Datagram{}, false, nil
	default:
		return Datagram{}, false, nil
	}
}

func (iface *Interface) handleARP(payload []byte) {
	if len(payload) < header.ARPSize {
		return
	}
	arp := header.ARP(payload)
	if !arp.IsValid() {
		return
	}

	senderIP := ipv4FromBytes(arp.ProtocolAddressSender())
	senderEth := tcpip.LinkAddress(arp.HardwareAddressSender())

	iface.arpCache[senderIP] = arpCacheEntry{ethernetAddr: senderEth, learnedAtMs: iface.currentTimeMs}
	iface.arpCacheExpiry.Insert(keyForIP(senderIP), iface.currentTimeMs)
	delete(iface.pendingRequests, senderIP)

	if queued, ok := iface.pendingDatagrams[senderIP]; ok {
		for _, dgram := range queued {
			if frame, err := iface.encodeIPv4Frame(senderEth, dgram); err == nil {
				iface.framesToSend = append(iface.framesToSend, frame)
			}
		}
		delete(iface.pendingDatagrams, senderIP)
	}

	if arp.Op() == header.ARPRequest && ipv4FromBytes(arp.ProtocolAddressTarget()) == ipToUint32(iface.ipAddr) {
		reply, err := iface.encodeARPReply(senderEth, senderIP)
		if err == nil {
			iface.framesToSend = append(iface.framesToSend, reply)
		}
	}
}

// Tick advances the interface's logical clock, evicting expired ARP
// cache entries (30s) and pending ARP requests (5s).
func (iface *Interface) Tick(msSinceLastTick uint64) {
	iface.mu.Lock()
	defer iface.mu.Unlock()

	iface.currentTimeMs += msSinceLastTick

	// arpCacheExpiry/pendingReqExpiry hold at most one entry per key (see
	// pq.AgeQueue.Insert), so a popped key is always the map's current
	// entry for that IP, not a stale duplicate from an earlier refresh.
	if iface.currentTimeMs >= arpCacheTimeoutMs {
		for _, key := range iface.arpCacheExpiry.PopExpiredBefore(saturatingSub(iface.currentTimeMs, arpCacheTimeoutMs)) {
			delete(iface.arpCache, ipFromKey(key))
		}
	}
	if iface.currentTimeMs >= arpRequestTimeoutMs {
		for _, key := range iface.pendingReqExpiry.PopExpiredBefore(saturatingSub(iface.currentTimeMs, arpRequestTimeoutMs)) {
			delete(iface.pendingRequests, ipFromKey(key))
		}
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// MaybeSend dequeues one frame ready for the link, if any.
func (iface *Interface) MaybeSend() ([]byte, bool) {
	iface.mu.Lock()
	defer iface.mu.Unlock()

	if len(iface.framesToSend) == 0 {
		return nil, false
	}
	frame := iface.framesToSend[0]
	iface.framesToSend = iface.framesToSend[1:]
	return frame, true
}

func (iface *Interface) encodeIPv4Frame(dst tcpip.LinkAddress, dgram Datagram) ([]byte, error) {
	payload, err := serializeDatagram(dgram)
	if err != nil {
		return nil, err
	}
	return iface.encodeFrame(dst, header.IPv4ProtocolNumber, payload), nil
}

func (iface *Interface) encodeFrame(dst tcpip.LinkAddress, ethType tcpip.NetworkProtocolNumber, payload []byte) []byte {
	frame := make([]byte, header.EthernetMinimumSize+len(payload))
	header.Ethernet(frame).Encode(&header.EthernetFields{
		SrcAddr: iface.ethernetAddr,
		DstAddr: dst,
		Type:    ethType,
	})
	copy(frame[header.EthernetMinimumSize:], payload)
	return frame
}

func (iface *Interface) encodeARPRequest(targetIP netip.Addr) ([]byte, error) {
	buf := make([]byte, header.ARPSize)
	arp := header.ARP(buf)
	arp.SetIPv4OverEthernet()
	arp.SetOp(header.ARPRequest)
	copy(arp.HardwareAddressSender(), iface.ethernetAddr)
	copy(arp.ProtocolAddressSender(), bytesFromIP(iface.ipAddr))
	copy(arp.ProtocolAddressTarget(), bytesFromIP(targetIP))
	return iface.encodeFrame(broadcastAddress, header.ARPProtocolNumber, buf), nil
}

func (iface *Interface) encodeARPReply(dst tcpip.LinkAddress, dstIP uint32) ([]byte, error) {
	buf := make([]byte, header.ARPSize)
	arp := header.ARP(buf)
	arp.SetIPv4OverEthernet()
	arp.SetOp(header.ARPReply)
	copy(arp.HardwareAddressSender(), iface.ethernetAddr)
	copy(arp.ProtocolAddressSender(), bytesFromIP(iface.ipAddr))
	copy(arp.HardwareAddressTarget(), dst)
	copy(arp.ProtocolAddressTarget(), bytesFromIP(uint32ToIP(dstIP)))
	return iface.encodeFrame(dst, header.ARPProtocolNumber, buf), nil
}

func bytesFromIP(addr netip.Addr) []byte {
	b := addr.As4()
	return b[:]
}

func ipv4FromBytes(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func keyForIP(ip uint32) string {
	addr := uint32ToIP(ip)
	return addr.String()
}

func ipFromKey(key string) uint32 {
	addr, err := netip.ParseAddr(key)
	if err != nil {
		return 0
	}
	return ipToUint32(addr)
}

func serializeDatagram(dgram Datagram) ([]byte, error) {
	headerBytes, err := dgram.Header.Marshal()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(headerBytes)+len(dgram.Payload))
	out = append(out, headerBytes...)
	out = append(out, dgram.Payload...)
	return out, nil
}

func parseDatagram(raw []byte) (Datagram, error) {
	hdr, err := ipv4header.ParseHeader(raw)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{Header: *hdr, Payload: raw[hdr.Len:]}, nil
}

// ComputeChecksum computes the RFC 791 Internet checksum the same way
// the teacher's pkg/protocol.go does, via the netstack header package.
func ComputeChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	return checksum ^ 0xffff
}

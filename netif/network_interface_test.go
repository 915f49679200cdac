package netif

import (
	"net"
	"net/netip"
	"testing"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
)

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

func testDatagram(src, dst netip.Addr) Datagram {
	return Datagram{
		Header: ipv4header.IPv4Header{
			Version: 4,
			Len:     ipv4header.HeaderLen,
			TTL:     16,
			Src:     src,
			Dst:     dst,
		},
		Payload: []byte("hello"),
	}
}

func TestSendDatagramQueuesARPRequestWhenUnresolved(t *testing.T) {
	iface := New("eth0", mustMAC("02:00:00:00:00:01"), netip.MustParseAddr("10.0.0.1"))
	dst := netip.MustParseAddr("10.0.0.2")

	if err := iface.SendDatagram(testDatagram(iface.IPAddr(), dst), dst); err != nil {
		t.Fatalf("SendDatagram: %v", err)
	}

	frame, ok := iface.MaybeSend()
	if !ok {
		t.Fatal("expected an ARP request frame")
	}
	if header.Ethernet(frame).Type() != header.ARPProtocolNumber {
		t.Fatalf("frame type = %v, want ARP", header.Ethernet(frame).Type())
	}

	// A second send to the same unresolved destination must not emit a
	// duplicate ARP request.
	if err := iface.SendDatagram(testDatagram(iface.IPAddr(), dst), dst); err != nil {
		t.Fatalf("SendDatagram: %v", err)
	}
	if _, ok := iface.MaybeSend(); ok {
		t.Fatal("expected no second ARP request while one is pending")
	}
}

func TestARPReplyFlushesPendingDatagrams(t *testing.T) {
	local := New("eth0", mustMAC("02:00:00:00:00:01"), netip.MustParseAddr("10.0.0.1"))
	peerMAC := mustMAC("02:00:00:00:00:02")
	peerIP := netip.MustParseAddr("10.0.0.2")

	if err := local.SendDatagram(testDatagram(local.IPAddr(), peerIP), peerIP); err != nil {
		t.Fatalf("SendDatagram: %v", err)
	}
	local.MaybeSend() // drain the ARP request

	reply, err := local.encodeARPReplyForTest(peerMAC, peerIP)
	if err != nil {
		t.Fatalf("encodeARPReplyForTest: %v", err)
	}
	if _, _, err := local.RecvFrame(reply); err != nil {
		t.Fatalf("RecvFrame: %v", err)
	}

	frame, ok := local.MaybeSend()
	if !ok {
		t.Fatal("expected the queued datagram to be flushed after ARP resolved")
	}
	if header.Ethernet(frame).Type() != header.IPv4ProtocolNumber {
		t.Fatalf("frame type = %v, want IPv4", header.Ethernet(frame).Type())
	}
	if header.Ethernet(frame).DestinationAddress() != tcpip.LinkAddress(peerMAC) {
		t.Fatal("flushed frame not addressed to the resolved peer")
	}
}

func TestTickEvictsExpiredARPCacheEntry(t *testing.T) {
	local := New("eth0", mustMAC("02:00:00:00:00:01"), netip.MustParseAddr("10.0.0.1"))
	peerMAC := mustMAC("02:00:00:00:00:02")
	peerIP := netip.MustParseAddr("10.0.0.2")

	reply, err := local.encodeARPReplyForTest(peerMAC, peerIP)
	if err != nil {
		t.Fatalf("encodeARPReplyForTest: %v", err)
	}
	local.RecvFrame(reply)
	if _, cached := local.arpCache[ipToUint32(peerIP)]; !cached {
		t.Fatal("expected peer in ARP cache after reply")
	}

	local.Tick(arpCacheTimeoutMs + 1)
	if _, cached := local.arpCache[ipToUint32(peerIP)]; cached {
		t.Fatal("expected ARP cache entry evicted after timeout")
	}
}

// encodeARPReplyForTest builds an inbound ARP reply frame as if sent by a
// peer with the given MAC/IP, addressed to the local interface.
func (iface *Interface) encodeARPReplyForTest(peerMAC net.HardwareAddr, peerIP netip.Addr) ([]byte, error) {
	buf := make([]byte, header.ARPSize)
	arp := header.ARP(buf)
	arp.SetIPv4OverEthernet()
	arp.SetOp(header.ARPReply)
	copy(arp.HardwareAddressSender(), peerMAC)
	copy(arp.ProtocolAddressSender(), bytesFromIP(peerIP))
	copy(arp.HardwareAddressTarget(), iface.ethernetAddr)
	copy(arp.ProtocolAddressTarget(), bytesFromIP(iface.ipAddr))
	return iface.encodeFrame(iface.ethernetAddr, header.ARPProtocolNumber, buf), nil
}

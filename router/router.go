// Package router implements IPv4 forwarding across a set of netif
// interfaces: longest-prefix-match route lookup, TTL decrement, and
// checksum recompute, matching RFC 791 forwarding semantics.
package router

import (
	"fmt"
	"io"
	"net/netip"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hash-roar/minnow/netif"
)

// Route is one entry in the routing table. NextHop is the zero Addr for
// a directly attached network, in which case the datagram's own
// destination is used as the next hop.
type Route struct {
	Prefix        netip.Prefix
	NextHop       netip.Addr
	InterfaceName string
}

func (r Route) direct() bool { return !r.NextHop.IsValid() }

// Router holds a set of interfaces and a routing table, and forwards
// datagrams received on any interface according to longest-prefix
// match.
type Router struct {
	mu sync.RWMutex // guards interfaces/routes; RouteOne runs from one goroutine per interface

	interfaces map[string]*netif.Interface
	routes     []Route
}

// New creates a router with no interfaces or routes configured.
func New() *Router {
	return &Router{interfaces: make(map[string]*netif.Interface)}
}

// AddInterface registers an interface the router can forward through.
func (rt *Router) AddInterface(iface *netif.Interface) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.interfaces[iface.Name()] = iface
}

// AddRoute registers a routing table entry. Later routes with an
// equally long prefix take precedence over earlier ones, matching the
// original reference router's ">=" tie-break.
func (rt *Router) AddRoute(route Route) {
	hop := "(direct)"
	if !route.direct() {
		hop = route.NextHop.String()
	}
	log.Debug().
		Str("prefix", route.Prefix.String()).
		Str("next_hop", hop).
		Str("interface", route.InterfaceName).
		Msg("adding route")

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes = append(rt.routes, route)
}

// PrintRoutes writes the routing table in the teacher's "lr" REPL
// format: type ("L" for direct routes, "R" otherwise), prefix, next hop
// ("(direct)" for direct routes), and interface name.
func (rt *Router) PrintRoutes(w io.Writer) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	fmt.Fprintln(w, "T     Prefix            Next hop    Interface")
	for _, route := range rt.routes {
		kind := "R"
		hop := route.NextHop.String()
		if route.direct() {
			kind = "L"
			hop = "(direct)"
		}
		fmt.Fprintf(w, "%s     %-16s  %-10s  %s\n", kind, route.Prefix, hop, route.InterfaceName)
	}
}

// bestRoute assumes rt.mu is already held by the caller.
func (rt *Router) bestRoute(dst netip.Addr) (Route, bool) {
	var best Route
	found := false
	longest := -1
	for _, route := range rt.routes {
		if !route.Prefix.Contains(dst) {
			continue
		}
		bits := route.Prefix.Bits()
		if bits >= longest {
			best = route
			longest = bits
			found = true
		}
	}
	return best, found
}

// Resolve looks up the outbound interface and next-hop address for dst
// without touching TTL or checksum, for use by an originating host
// picking where to hand off a datagram it created itself.
func (rt *Router) Resolve(dst netip.Addr) (nextHop netip.Addr, outIface *netif.Interface, ok bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	route, found := rt.bestRoute(dst)
	if !found {
		return netip.Addr{}, nil, false
	}
	outIface, found = rt.interfaces[route.InterfaceName]
	if !found {
		return netip.Addr{}, nil, false
	}
	nextHop = dst
	if !route.direct() {
		nextHop = route.NextHop
	}
	return nextHop, outIface, true
}

// RouteOne hands one raw frame received on iface to that interface and,
// if it yields an IPv4 datagram, forwards it according to the routing
// table, decrementing TTL and recomputing the header checksum. A
// datagram with no matching route, or whose TTL expires, is dropped.
func (rt *Router) RouteOne(iface *netif.Interface, raw []byte) error {
	dgram, ok, err := iface.RecvFrame(raw)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rt.forward(dgram)
	return nil
}

func (rt *Router) forward(dgram netif.Datagram) {
	if dgram.Header.TTL <= 1 {
		return
	}
	dgram.Header.TTL--
	dgram.Header.Checksum = 0
	headerBytes, err := dgram.Header.Marshal()
	if err != nil {
		return
	}
	dgram.Header.Checksum = int(netif.ComputeChecksum(headerBytes))

	rt.mu.RLock()
	route, ok := rt.bestRoute(dgram.Header.Dst)
	if !ok {
		rt.mu.RUnlock()
		return
	}

	nextHop := dgram.Header.Dst
	if !route.direct() {
		nextHop = route.NextHop
	}

	outIface, ok := rt.interfaces[route.InterfaceName]
	rt.mu.RUnlock()
	if !ok {
		return
	}
	// outIface.SendDatagram locks that interface's own mutex internally;
	// it must run outside rt.mu so rt.mu is never held while waiting on
	// an interface's lock.
	outIface.SendDatagram(dgram, nextHop)
}

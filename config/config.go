// Package config loads a YAML topology description into the
// Interface/Route structs fed to netif and router, replacing the
// teacher's unavailable .lnx parser with a self-contained format.
package config

import (
	"net"
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"github.com/tmthrgd/go-popcount"
	"gopkg.in/yaml.v3"

	"github.com/hash-roar/minnow/netif"
	"github.com/hash-roar/minnow/router"
)

// InterfaceSpec describes one interface in the topology file. UDP and
// Neighbors describe the simulated link: each interface listens on its
// own UDP socket and shares that "wire" with the neighbors' sockets, the
// same virtual-topology-over-UDP model the teacher's lnxconfig-driven
// stack used.
type InterfaceSpec struct {
	Name      string   `yaml:"name"`
	MAC       string   `yaml:"mac"`
	IP        string   `yaml:"ip"`
	Mask      string   `yaml:"mask"`
	UDP       string   `yaml:"udp"`
	Neighbors []string `yaml:"neighbors,omitempty"`
}

// RouteSpec describes one routing table entry in the topology file.
// NextHop is omitted (empty string) for a directly attached network.
type RouteSpec struct {
	Dest      string `yaml:"dest"`
	Mask      string `yaml:"mask"`
	NextHop   string `yaml:"next_hop,omitempty"`
	Interface string `yaml:"interface"`
}

// Topology is the full parsed contents of a topology file.
type Topology struct {
	Interfaces []InterfaceSpec `yaml:"interfaces"`
	Routes     []RouteSpec     `yaml:"routes"`
}

// Load reads and parses a YAML topology file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read topology file %s", path)
	}
	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, errors.Wrapf(err, "parse topology file %s", path)
	}
	return &top, nil
}

// prefixLenFromMask derives a CIDR prefix length from a dotted-quad
// subnet mask, mirroring the teacher's bits.OnesCount32-based
// ConvertUint32ToPrefix but through the pack's own popcount library.
func prefixLenFromMask(mask string) (int, error) {
	ip := net.ParseIP(mask)
	if ip == nil {
		return 0, errors.Errorf("invalid subnet mask %q", mask)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, errors.Errorf("subnet mask %q is not IPv4", mask)
	}
	return int(popcount.CountBytes(v4)), nil
}

// BuildInterfaces constructs netif.Interface values for every spec in
// the topology, keyed by interface name.
func BuildInterfaces(top *Topology) (map[string]*netif.Interface, error) {
	ifaces := make(map[string]*netif.Interface, len(top.Interfaces))
	for _, spec := range top.Interfaces {
		mac, err := net.ParseMAC(spec.MAC)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %s: invalid mac %q", spec.Name, spec.MAC)
		}
		ip, err := netip.ParseAddr(spec.IP)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %s: invalid ip %q", spec.Name, spec.IP)
		}
		ifaces[spec.Name] = netif.New(spec.Name, mac, ip)
	}
	return ifaces, nil
}

// LinkSpec is the UDP transport half of an interface's configuration,
// kept separate from netif.Interface since the core link layer knows
// nothing about sockets.
type LinkSpec struct {
	ListenAddr string
	Neighbors  []string
}

// BuildLinks extracts the UDP transport configuration for every
// interface, keyed by interface name.
func BuildLinks(top *Topology) map[string]LinkSpec {
	links := make(map[string]LinkSpec, len(top.Interfaces))
	for _, spec := range top.Interfaces {
		links[spec.Name] = LinkSpec{ListenAddr: spec.UDP, Neighbors: spec.Neighbors}
	}
	return links
}

// BuildRoutes converts every RouteSpec into a router.Route.
func BuildRoutes(top *Topology) ([]router.Route, error) {
	routes := make([]router.Route, 0, len(top.Routes))
	for _, spec := range top.Routes {
		prefixLen, err := prefixLenFromMask(spec.Mask)
		if err != nil {
			return nil, errors.Wrapf(err, "route to %s", spec.Dest)
		}
		destAddr, err := netip.ParseAddr(spec.Dest)
		if err != nil {
			return nil, errors.Wrapf(err, "route: invalid destination %q", spec.Dest)
		}
		prefix := netip.PrefixFrom(destAddr, prefixLen)

		var nextHop netip.Addr
		if spec.NextHop != "" {
			nextHop, err = netip.ParseAddr(spec.NextHop)
			if err != nil {
				return nil, errors.Wrapf(err, "route to %s: invalid next hop %q", spec.Dest, spec.NextHop)
			}
		}

		routes = append(routes, router.Route{
			Prefix:        prefix,
			NextHop:       nextHop,
			InterfaceName: spec.Interface,
		})
	}
	return routes, nil
}

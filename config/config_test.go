package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTopology = `
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
    ip: "10.0.0.1"
    mask: "255.255.255.0"
    udp: "127.0.0.1:5000"
    neighbors: ["127.0.0.1:5001"]
  - name: eth1
    mac: "02:00:00:00:00:02"
    ip: "192.168.1.1"
    mask: "255.255.255.0"
    udp: "127.0.0.1:5001"
    neighbors: ["127.0.0.1:5000"]

routes:
  - dest: "192.168.1.0"
    mask: "255.255.255.0"
    interface: eth1
  - dest: "0.0.0.0"
    mask: "0.0.0.0"
    next_hop: "10.0.0.254"
    interface: eth0
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	if err := os.WriteFile(path, []byte(sampleTopology), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAndBuildInterfaces(t *testing.T) {
	top, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(top.Interfaces) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(top.Interfaces))
	}

	ifaces, err := BuildInterfaces(top)
	if err != nil {
		t.Fatalf("BuildInterfaces: %v", err)
	}
	eth0, ok := ifaces["eth0"]
	if !ok {
		t.Fatal("missing eth0")
	}
	if eth0.IPAddr().String() != "10.0.0.1" {
		t.Fatalf("eth0 ip = %s, want 10.0.0.1", eth0.IPAddr())
	}

	links := BuildLinks(top)
	if links["eth0"].ListenAddr != "127.0.0.1:5000" {
		t.Fatalf("eth0 listen addr = %s, want 127.0.0.1:5000", links["eth0"].ListenAddr)
	}
	if len(links["eth1"].Neighbors) != 1 || links["eth1"].Neighbors[0] != "127.0.0.1:5000" {
		t.Fatalf("eth1 neighbors = %v, want [127.0.0.1:5000]", links["eth1"].Neighbors)
	}
}

func TestBuildRoutesDerivesPrefixLenFromMask(t *testing.T) {
	top, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	routes, err := BuildRoutes(top)
	if err != nil {
		t.Fatalf("BuildRoutes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[0].Prefix.Bits() != 24 {
		t.Fatalf("first route prefix bits = %d, want 24", routes[0].Prefix.Bits())
	}
	if routes[1].Prefix.Bits() != 0 {
		t.Fatalf("default route prefix bits = %d, want 0", routes[1].Prefix.Bits())
	}
	if !routes[1].NextHop.IsValid() {
		t.Fatal("expected default route to have a next hop")
	}
	if routes[0].NextHop.IsValid() {
		t.Fatal("expected directly attached route to have no next hop")
	}
}

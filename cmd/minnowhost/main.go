// Command minnowhost runs a single end host: it loads a topology file,
// brings up its interface(s), and offers a REPL for sending test IP
// payloads and printing interface/route state, the host-side role the
// teacher's vhost played.
package main

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/rs/zerolog/log"

	"github.com/hash-roar/minnow/config"
	"github.com/hash-roar/minnow/link"
	"github.com/hash-roar/minnow/netif"
	"github.com/hash-roar/minnow/router"
)

// testProtocolNumber is the payload protocol used for the REPL's "send"
// command, matching the teacher's TestPacketHandler on protocol 0.
const testProtocolNumber = 0

const tickInterval = 100 * time.Millisecond

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: minnowhost --config <topology.yaml>")
		os.Exit(1)
	}

	top, err := config.Load(os.Args[2])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load topology")
	}

	ifaces, err := config.BuildInterfaces(top)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build interfaces")
	}
	routes, err := config.BuildRoutes(top)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build routes")
	}
	links := config.BuildLinks(top)

	rt := router.New()
	for _, iface := range ifaces {
		rt.AddInterface(iface)
	}
	for _, route := range routes {
		rt.AddRoute(route)
	}

	sockets := make(map[string]*link.Socket, len(ifaces))
	for name, spec := range links {
		sock, err := link.Dial(name, spec)
		if err != nil {
			log.Fatal().Err(err).Str("interface", name).Msg("failed to open link socket")
		}
		sockets[name] = sock
	}

	for name, iface := range ifaces {
		go func(name string, iface *netif.Interface) {
			sock := sockets[name]
			if err := sock.RecvLoop(func(frame []byte) {
				dgram, ok, err := iface.RecvFrame(frame)
				if err != nil {
					log.Warn().Err(err).Str("interface", name).Msg("failed to parse frame")
					return
				}
				if ok && dgram.Header.Dst == iface.IPAddr() {
					handleLocal(dgram)
				}
				sock.DrainAndSend(iface)
			}); err != nil {
				log.Error().Err(err).Str("interface", name).Msg("recv loop exited")
			}
		}(name, iface)
	}

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for range ticker.C {
			for name, iface := range ifaces {
				iface.Tick(uint64(tickInterval.Milliseconds()))
				sockets[name].DrainAndSend(iface)
			}
		}
	}()

	repl(rt, ifaces, sockets)
}

func handleLocal(dgram netif.Datagram) {
	if dgram.Header.Protocol != testProtocolNumber {
		return
	}
	fmt.Printf("Received test packet: Src: %s, Dst: %s, TTL: %d, Data: %s\n",
		dgram.Header.Src, dgram.Header.Dst, dgram.Header.TTL, string(dgram.Payload))
}

func repl(rt *router.Router, ifaces map[string]*netif.Interface, sockets map[string]*link.Socket) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("minnowhost ready. Commands: li, lr, send <ip> <message>")
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "li":
			for name, iface := range ifaces {
				fmt.Printf("%s  %s\n", name, iface.IPAddr())
			}
		case line == "lr":
			rt.PrintRoutes(os.Stdout)
		case strings.HasPrefix(line, "send "):
			handleSend(line, rt, ifaces, sockets)
		default:
			fmt.Println("unknown command")
		}
	}
}

func handleSend(line string, rt *router.Router, ifaces map[string]*netif.Interface, sockets map[string]*link.Socket) {
	rest := strings.TrimPrefix(line, "send ")
	spaceIdx := strings.Index(rest, " ")
	if spaceIdx < 0 {
		fmt.Println("usage: send <ip> <message>")
		return
	}
	dst, err := netip.ParseAddr(rest[:spaceIdx])
	if err != nil {
		fmt.Println("invalid destination IP")
		return
	}
	message := rest[spaceIdx+1:]

	nextHop, srcIface, ok := rt.Resolve(dst)
	if !ok {
		fmt.Println("no route to", dst)
		return
	}

	dgram := netif.Datagram{
		Header: ipv4header.IPv4Header{
			Version:  4,
			Len:      ipv4header.HeaderLen,
			TotalLen: ipv4header.HeaderLen + len(message),
			TTL:      16,
			Protocol: testProtocolNumber,
			Src:      srcIface.IPAddr(),
			Dst:      dst,
		},
		Payload: []byte(message),
	}

	if err := srcIface.SendDatagram(dgram, nextHop); err != nil {
		fmt.Println("send failed:", err)
		return
	}
	for name, iface := range ifaces {
		sockets[name].DrainAndSend(iface)
	}
}

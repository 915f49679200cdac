// Command minnowrouter runs a static IPv4 forwarding node: it loads a
// topology file, brings up one netif.Interface plus UDP socket per
// configured interface, and forwards datagrams between them according
// to its routing table, the same role the teacher's vrouter played.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hash-roar/minnow/config"
	"github.com/hash-roar/minnow/link"
	"github.com/hash-roar/minnow/netif"
	"github.com/hash-roar/minnow/router"
)

const tickInterval = 100 * time.Millisecond

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: minnowrouter --config <topology.yaml>")
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
				if err := rt.RouteOne(iface, frame); err != nil {
					log.Warn().Err(err).Str("interface", name).Msg("failed to route frame")
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

	repl(rt, ifaces)
}

func repl(rt *router.Router, ifaces map[string]*netif.Interface) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("minnowrouter ready. Commands: li, lr")
	for scanner.Scan() {
		switch scanner.Text() {
		case "li":
			for name, iface := range ifaces {
				fmt.Printf("%s  %s\n", name, iface.IPAddr())
			}
		case "lr":
			rt.PrintRoutes(os.Stdout)
		default:
			fmt.Println("unknown command")
		}
	}
}

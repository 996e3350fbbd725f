// Package discovery publishes this node on the local network over mDNS
// and browses for other meshchat nodes, feeding discovered addresses into
// the daemon's connect loop.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/betamos/zeroconf"
)

const (
	ServiceType = "_meshchat._udp"
)

// Peer is a node seen on the local network.
type Peer struct {
	Name string
	Addr string
	Port int
}

type Discovery struct {
	client   *zeroconf.Client
	nodeName string
	port     int
	onPeer   func(Peer)
}

// New publishes this node and browses for peers, invoking onPeer for each
// address observed.
func New(nodeName string, port int, onPeer func(Peer)) (*Discovery, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("bad port %d", port)
	}
	svcType := zeroconf.NewType(ServiceType)
	self := zeroconf.NewService(svcType, nodeName, uint16(port))

	client, err := zeroconf.New().
		Publish(self).
		Browse(func(e zeroconf.Event) {
			handleEvent(e, nodeName, onPeer)
		}, svcType).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}

	return &Discovery{
		client:   client,
		nodeName: nodeName,
		port:     port,
		onPeer:   onPeer,
	}, nil
}

func handleEvent(e zeroconf.Event, selfName string, onPeer func(Peer)) {
	if e.Name == selfName {
		return
	}
	var addrs []string
	for _, a := range e.Addrs {
		if a.IsValid() {
			addrs = append(addrs, net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port))))
		}
	}
	if len(addrs) == 0 {
		return
	}
	// Prefer an IPv4 address when one is present.
	addr := addrs[0]
	for _, a := range addrs {
		if strings.Count(a, ":") < 2 {
			addr = a
			break
		}
	}
	if onPeer != nil {
		onPeer(Peer{Name: e.Name, Addr: addr, Port: int(e.Port)})
	}
}

func (d *Discovery) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Package network lists the addresses an output window on another machine
// can use to reach the mixer's relay.
package network

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Endpoint is one reachable relay address.
type Endpoint struct {
	Interface string
	Address   string
	Kind      string // "ethernet", "wifi", "other" or "localhost"
	URL       string
}

// Label renders the endpoint for the startup banner.
func (e Endpoint) Label() string {
	return fmt.Sprintf("%s %-8s %s", kindIcon(e.Kind), e.Interface, e.URL)
}

// InterfaceKind guesses the link type from the interface name.
func InterfaceKind(name string) string {
	name = strings.ToLower(name)
	switch {
	case name == "en0":
		// Built-in Wi-Fi on most Macs
		return "wifi"
	case strings.HasPrefix(name, "wl"), strings.Contains(name, "wifi"), strings.Contains(name, "wireless"):
		return "wifi"
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"):
		return "ethernet"
	default:
		return "other"
	}
}

func kindIcon(kind string) string {
	switch kind {
	case "wifi":
		return "📶"
	case "ethernet":
		return "🌐"
	case "localhost":
		return "🏠"
	default:
		return "📡"
	}
}

var kindOrder = map[string]int{"ethernet": 0, "wifi": 1, "other": 2, "localhost": 3}

// RelayURL formats the relay websocket URL for host and port.
func RelayURL(host, port string) string {
	return "ws://" + net.JoinHostPort(host, port) + "/output"
}

// RelayEndpoints lists relay URLs on every up, non-loopback IPv4 interface,
// wired links first, followed by localhost.
func RelayEndpoints(port string) ([]Endpoint, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var endpoints []Endpoint
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		endpoints = append(endpoints, endpointsFor(iface.Name, addrs, port)...)
	}
	endpoints = append(endpoints, Endpoint{
		Interface: "lo",
		Address:   "127.0.0.1",
		Kind:      "localhost",
		URL:       RelayURL("localhost", port),
	})
	sortEndpoints(endpoints)
	return endpoints, nil
}

func endpointsFor(name string, addrs []net.Addr, port string) []Endpoint {
	var out []Endpoint
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, Endpoint{
			Interface: name,
			Address:   ip4.String(),
			Kind:      InterfaceKind(name),
			URL:       RelayURL(ip4.String(), port),
		})
	}
	return out
}

func sortEndpoints(endpoints []Endpoint) {
	sort.SliceStable(endpoints, func(i, j int) bool {
		return kindOrder[endpoints[i].Kind] < kindOrder[endpoints[j].Kind]
	})
}

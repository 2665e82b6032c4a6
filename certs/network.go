// Package certs issues the locally trusted certificate the bridge serves
// wss:// and https:// with, and hands its CA to phones on the LAN.
package certs

import (
	"net"
	"sort"
)

// LANAddresses returns the IPv4 addresses of every interface that is up and
// not a loopback.
func LANAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				ips = append(ips, ip.String())
			}
		}
	}
	return ips, nil
}

// CertificateHosts returns the names a server certificate must cover:
// localhost, the loopback address, the LAN addresses and any extra names.
// Duplicates are removed.
func CertificateHosts(extra ...string) ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lan, err := LANAddresses()
	hosts = append(hosts, lan...)
	hosts = append(hosts, extra...)
	return dedupe(hosts), err
}

func dedupe(hosts []string) []string {
	seen := make(map[string]bool, len(hosts))
	out := hosts[:0]
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// sameHosts reports whether a and b hold the same names in any order.
func sameHosts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

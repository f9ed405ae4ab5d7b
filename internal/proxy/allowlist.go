// Package proxy implements the recording MITM proxy the browser and the
// background fetch units speak through: traffic tracking, size monitoring
// and destination filtering.
package proxy

import (
	"fmt"
	"net"
	"strings"
)

// deniedRanges are the networks a capture must never reach: loopback,
// RFC1918, link-local, CGNAT and their IPv6 equivalents.
var deniedRanges = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// Allowlist rejects proxied destinations that resolve into private or
// internal address space, unless the network is explicitly allowed.
type Allowlist struct {
	denied  []*net.IPNet
	allowed []*net.IPNet
}

// NewAllowlist builds the destination filter. allowedNets are CIDR strings
// that punch holes in the built-in denied ranges (useful for test fixtures
// served on loopback).
func NewAllowlist(allowedNets []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, cidr := range deniedRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse denied range %q: %w", cidr, err)
		}
		a.denied = append(a.denied, network)
	}
	for _, raw := range allowedNets {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("parse allowed network %q: %w", value, err)
		}
		a.allowed = append(a.allowed, network)
	}
	return a, nil
}

// Permits reports whether the host (name or literal IP, optionally with a
// port) may be dialed. Names are resolved first so a DNS entry pointing at
// internal space is caught before the connection is made.
func (a *Allowlist) Permits(host string) bool {
	if a == nil {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return false
		}
		ips = resolved
	}

	for _, ip := range ips {
		if !a.permitsIP(ip) {
			return false
		}
	}
	return true
}

func (a *Allowlist) permitsIP(ip net.IP) bool {
	for _, network := range a.allowed {
		if network.Contains(ip) {
			return true
		}
	}
	for _, network := range a.denied {
		if network.Contains(ip) {
			return false
		}
	}
	return true
}

// Package fetch downloads web pages for the agent with SSRF protection:
// every URL, including each redirect hop, is validated against blocked
// hostnames and private address ranges before any request is made.
package fetch

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"169.254.169.254":          true,
}

// privateCIDRs covers internal IPv4 and IPv6 space, including CGNAT and
// link-local ranges used by cloud metadata services.
var privateCIDRs = []string{
	"0.0.0.0/8",      // "this" network
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // private class A
	"100.64.0.0/10",  // CGNAT
	"172.16.0.0/12",  // private class B
	"192.168.0.0/16", // private class C
	"169.254.0.0/16", // link-local
	"::/128",         // IPv6 unspecified
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
}

var privateNets []*net.IPNet

func init() {
	for _, cidr := range privateCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("fetch: bad private CIDR %q: %v", cidr, err))
		}
		privateNets = append(privateNets, network)
	}
}

// Validator decides whether a URL may be fetched. LookupIP is injectable
// so tests can fake DNS.
type Validator struct {
	LookupIP func(host string) ([]net.IP, error)
}

func NewValidator() *Validator {
	return &Validator{LookupIP: net.LookupIP}
}

// Validate rejects non-http(s) schemes, blocked hostnames, and hostnames
// resolving to any private or internal address.
func (v *Validator) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		scheme := u.Scheme
		if scheme == "" {
			scheme = "none"
		}
		return fmt.Errorf("only http/https allowed, got '%s'", scheme)
	}
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return fmt.Errorf("missing hostname")
	}
	if blockedHostnames[hostname] {
		return fmt.Errorf("access to %s is blocked", hostname)
	}

	// A literal IP must be checked directly; DNS for everything else.
	if ip := net.ParseIP(hostname); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("access to private/internal addresses is blocked")
		}
		return nil
	}

	ips, err := v.LookupIP(hostname)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("could not resolve hostname")
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("access to private/internal addresses is blocked")
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

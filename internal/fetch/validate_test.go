package fetch

import (
	"fmt"
	"net"
	"strings"
	"testing"
)

func fakeResolver(ips map[string][]string) func(string) ([]net.IP, error) {
	return func(host string) ([]net.IP, error) {
		addrs, ok := ips[host]
		if !ok {
			return nil, fmt.Errorf("no such host: %s", host)
		}
		var out []net.IP
		for _, a := range addrs {
			out = append(out, net.ParseIP(a))
		}
		return out, nil
	}
}

func TestValidate(t *testing.T) {
	v := &Validator{LookupIP: fakeResolver(map[string][]string{
		"example.com":  {"93.184.216.34"},
		"internal.lan": {"10.0.0.5"},
		"rebind.evil":  {"93.184.216.34", "192.168.1.1"},
		"dual.example": {"2606:2800:220:1:248:1893:25c8:1946"},
	})}

	tests := []struct {
		name    string
		url     string
		wantErr string // empty means allowed
	}{
		{"public hostname", "https://example.com/page", ""},
		{"public ipv6", "http://dual.example/", ""},
		{"ftp scheme", "ftp://example.com/file", "only http/https allowed"},
		{"no scheme", "example.com", "only http/https allowed"},
		{"missing hostname", "http://", "missing hostname"},
		{"blocked localhost", "http://localhost:8080/", "is blocked"},
		{"blocked metadata hostname", "http://metadata.google.internal/computeMetadata", "is blocked"},
		{"blocked metadata ip", "http://169.254.169.254/latest/meta-data", "is blocked"},
		{"literal loopback", "http://127.0.0.1/", "private/internal"},
		{"literal loopback high", "http://127.8.9.10/", "private/internal"},
		{"literal class a", "http://10.1.2.3/", "private/internal"},
		{"literal cgnat", "http://100.64.0.1/", "private/internal"},
		{"literal cgnat upper", "http://100.127.255.254/", "private/internal"},
		{"literal class b", "http://172.16.0.1/", "private/internal"},
		{"literal class c", "http://192.168.0.1/", "private/internal"},
		{"literal link local", "http://169.254.1.1/", "private/internal"},
		{"literal this network", "http://0.0.0.1/", "private/internal"},
		{"literal ipv6 loopback", "http://[::1]/", "private/internal"},
		{"literal ipv6 unique local", "http://[fc00::1]/", "private/internal"},
		{"literal ipv6 link local", "http://[fe80::1]/", "private/internal"},
		{"public literal", "http://93.184.216.34/", ""},
		{"resolves to private", "http://internal.lan/", "private/internal"},
		{"one of several private", "http://rebind.evil/", "private/internal"},
		{"unresolvable", "http://nxdomain.test/", "could not resolve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.url)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected allowed, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_CGNATBoundaries(t *testing.T) {
	// 100.64.0.0/10 ends at 100.127.255.255; the neighbours are public.
	v := &Validator{LookupIP: fakeResolver(nil)}

	if err := v.Validate("http://100.63.255.255/"); err != nil {
		t.Errorf("100.63.255.255 should be allowed: %v", err)
	}
	if err := v.Validate("http://100.128.0.0/"); err != nil {
		t.Errorf("100.128.0.0 should be allowed: %v", err)
	}
	if err := v.Validate("http://100.64.0.0/"); err == nil {
		t.Error("100.64.0.0 should be blocked")
	}
}

func TestValidate_HostnameCaseInsensitive(t *testing.T) {
	v := &Validator{LookupIP: fakeResolver(nil)}
	if err := v.Validate("http://LOCALHOST/"); err == nil {
		t.Fatal("uppercase localhost should be blocked")
	}
}

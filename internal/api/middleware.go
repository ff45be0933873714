// SPDX-License-Identifier: MIT

package api

import (
	"net"
	"net/http"
	"strings"
)

var trustedIPNets []*net.IPNet

// SetTrustedProxies configures the proxies/CIDRs whose forwarding headers are
// honored. Entries may be CIDRs ("10.0.0.0/8") or single IPs. Call once at
// startup, before the server accepts traffic.
func SetTrustedProxies(entries []string) {
	trustedIPNets = nil
	for _, part := range entries {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(p); err == nil {
			trustedIPNets = append(trustedIPNets, ipnet)
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			trustedIPNets = append(trustedIPNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
}

// remoteIsTrusted checks if the remote IP is a trusted proxy.
func remoteIsTrusted(remote string) bool {
	if len(trustedIPNets) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range trustedIPNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP determines the originating IP address. Forwarding headers
// (X-Forwarded-For / X-Real-IP) are only believed when the TCP peer is a
// trusted proxy; otherwise a scanner could spoof its way past the per-IP
// scan limits.
func clientIP(r *http.Request) string {
	if remoteIsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// Package geofence validates request origins: network origin against a CIDR
// allow-list (the hard gate) and device coordinates against a campus radius
// (a soft secondary signal).
package geofence

import (
	"math"
	"net/netip"
)

const earthRadiusM = 6371000

// Validator checks IP membership and coarse GPS distance.
type Validator struct {
	networks []netip.Prefix
	// allowAll bypasses the IP check. Set explicitly from config for test
	// deployments, never inferred from the environment.
	allowAll bool
}

// New parses the CIDR allow-list. Unparseable entries are reported so a typo
// in config fails loudly instead of silently shrinking the fence.
func New(cidrs []string, allowAll bool) (*Validator, error) {
	networks := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, err
		}
		networks = append(networks, p.Masked())
	}
	return &Validator{networks: networks, allowAll: allowAll}, nil
}

// IPPermitted reports whether addr parses as IPv4 and falls inside the
// allow-list. IPv6 is rejected outright; the allocation list is IPv4-only.
func (v *Validator) IPPermitted(addr string) bool {
	if v.allowAll {
		return true
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	if !ip.Is4() {
		return false
	}
	for _, n := range v.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// WithinRadius reports whether (lat, lon) lies within maxMeters of the
// reference point. Any missing coordinate makes the check permissive: GPS is
// optional supporting evidence, not the primary gate. Distance uses the
// equirectangular approximation, fine at campus scale.
func WithinRadius(lat, lon, centerLat, centerLon *float64, maxMeters float64) bool {
	if lat == nil || lon == nil || centerLat == nil || centerLon == nil {
		return true
	}
	x := radians(*lon-*centerLon) * math.Cos(radians((*lat+*centerLat)/2))
	y := radians(*lat - *centerLat)
	return earthRadiusM*math.Sqrt(x*x+y*y) <= maxMeters
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// SPDX-License-Identifier: MIT

package anticheat

import (
	"math"
	"strings"

	"github.com/chainpass/chainpass/internal/domain"
	"github.com/chainpass/chainpass/internal/metrics"
)

// earthRadiusMeters is the mean Earth radius used for Haversine distances.
const earthRadiusMeters = 6_371_000

// CheckLocation validates a scan's GPS reading and Wi-Fi BSSID against the
// session constraints. Nil constraints mean lenient mode: always valid.
// Geofence and allowlist combine conjunctively; a configured constraint
// makes its reading mandatory.
func CheckLocation(c *domain.Constraints, gps *domain.GPS, bssid string) error {
	if c == nil {
		return nil
	}

	if c.Geofence != nil {
		if gps == nil {
			metrics.IncLocationViolation("geofence")
			return domain.E(domain.CodeGeofenceViolation, "gps reading required")
		}
		d := HaversineMeters(c.Geofence.Lat, c.Geofence.Lon, gps.Lat, gps.Lon)
		if d > c.Geofence.RadiusMeters {
			metrics.IncLocationViolation("geofence")
			return domain.Ef(domain.CodeGeofenceViolation, "outside geofence: %.0fm > %.0fm", d, c.Geofence.RadiusMeters)
		}
	}

	if len(c.WifiAllowlist) > 0 {
		if bssid == "" {
			metrics.IncLocationViolation("wifi")
			return domain.E(domain.CodeWifiViolation, "bssid required")
		}
		if !bssidAllowed(bssid, c.WifiAllowlist) {
			metrics.IncLocationViolation("wifi")
			return domain.E(domain.CodeWifiViolation, "bssid not in allowlist")
		}
	}

	return nil
}

// bssidAllowed reports whether the BSSID case-insensitively contains at
// least one allowlisted fragment.
func bssidAllowed(bssid string, allowlist []string) bool {
	b := strings.ToLower(bssid)
	for _, fragment := range allowlist {
		if fragment == "" {
			continue
		}
		if strings.Contains(b, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// HaversineMeters returns the great-circle distance between two WGS84
// coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

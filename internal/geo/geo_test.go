package geo

import (
	"math"
	"testing"
)

func TestHaversineKM(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"same point", 40.7128, -74.0060, 40.7128, -74.0060, 0, 1e-9},
		{"new york to los angeles", 40.7128, -74.0060, 34.0522, -118.2437, 3936, 10},
		{"one degree of latitude", 0, 0, 1, 0, 111.19, 0.1},
		{"across the antimeridian", 0, 179.5, 0, -179.5, 111.19, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineKM = %v, want %v (±%v)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	ab := HaversineKM(40.7128, -74.0060, 34.0522, -118.2437)
	ba := HaversineKM(34.0522, -118.2437, 40.7128, -74.0060)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", ab, ba)
	}
}

func TestBoundingDegrees(t *testing.T) {
	dLat, dLon := BoundingDegrees(0, 111.0)
	if math.Abs(dLat-1.0) > 1e-9 {
		t.Errorf("dLat at equator = %v, want 1", dLat)
	}
	if math.Abs(dLon-1.0) > 1e-9 {
		t.Errorf("dLon at equator = %v, want 1", dLon)
	}

	// Longitude degrees shrink with latitude; the box must widen.
	_, dLonHigh := BoundingDegrees(60, 111.0)
	if dLonHigh <= dLon {
		t.Errorf("dLon at 60N = %v, want wider than equatorial %v", dLonHigh, dLon)
	}

	// Near the poles the cosine is clamped so the span stays finite.
	_, dLonPole := BoundingDegrees(89.99, 111.0)
	if math.IsInf(dLonPole, 0) || dLonPole > 111.0/(111.0*0.01)+1e-9 {
		t.Errorf("polar dLon = %v, want clamped", dLonPole)
	}
}

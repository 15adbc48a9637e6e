package tempo

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/airfuse/airfuse/internal/types"
)

var testNow = time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)

func TestNearestIndex(t *testing.T) {
	axis := []float64{15.0, 15.5, 16.0, 16.5, 17.0}
	tests := []struct {
		target float64
		want   int
	}{
		{15.0, 0},
		{15.2, 0},
		{15.3, 1},
		{16.4, 3},
		{40.0, 4},
		{-90.0, 0},
	}
	for _, tt := range tests {
		if got := nearestIndex(axis, tt.target); got != tt.want {
			t.Errorf("nearestIndex(%v) = %d, want %d", tt.target, got, tt.want)
		}
	}
}

func TestEvaluatePixelAccepted(t *testing.T) {
	// A clean NO2 column of 2.5e15 molecules/cm² converts to 0.875 ppb.
	px := pixel{value: 2.5e15, qualityFlag: 0, cloudFraction: 0.05}
	m := evaluatePixel(types.NO2, px, testNow)

	if m.Quality != types.QualityNASACompliant {
		t.Fatalf("quality = %s, want nasa_compliant (%s)", m.Quality, m.FilterReason)
	}
	if math.Abs(m.Value-0.875) > 1e-9 {
		t.Errorf("surface ppb = %v, want 0.875", m.Value)
	}
	if m.Units != types.UnitPPB {
		t.Errorf("units = %s, want ppb", m.Units)
	}
}

func TestEvaluatePixelFilters(t *testing.T) {
	tests := []struct {
		name   string
		px     pixel
		reason string
	}{
		{"bad quality flag", pixel{value: 2.5e15, qualityFlag: 1, cloudFraction: 0.05}, "quality flag"},
		{"cloudy", pixel{value: 2.5e15, qualityFlag: 0, cloudFraction: 0.45}, "cloud fraction"},
		{"cloud at threshold", pixel{value: 2.5e15, qualityFlag: 0, cloudFraction: 0.2}, "cloud fraction"},
		{"nan value", pixel{value: math.NaN(), qualityFlag: 0, cloudFraction: 0.05}, "NaN"},
		{"fill value", pixel{value: -1e30, fill: -1e30, hasFill: true, qualityFlag: 0, cloudFraction: 0.05}, "fill"},
		{"non-positive", pixel{value: -5e14, qualityFlag: 0, cloudFraction: 0.05}, "non-positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := evaluatePixel(types.NO2, tt.px, testNow)
			if m.Quality != types.QualityFiltered {
				t.Fatalf("quality = %s, want filtered", m.Quality)
			}
			if !strings.Contains(m.FilterReason, tt.reason) {
				t.Errorf("reason %q does not mention %q", m.FilterReason, tt.reason)
			}
			if m.Value != 0 {
				t.Errorf("filtered pixel carries value %v", m.Value)
			}
			if m.Usable() {
				t.Error("filtered measurements must not be usable")
			}
		})
	}
}

func TestEvaluatePixelFilterOrder(t *testing.T) {
	// A pixel failing several checks reports the quality flag first.
	px := pixel{value: math.NaN(), qualityFlag: 2, cloudFraction: 0.9}
	m := evaluatePixel(types.NO2, px, testNow)
	if !strings.Contains(m.FilterReason, "quality flag") {
		t.Errorf("reason = %q, want the quality-flag check to fire first", m.FilterReason)
	}
}

func TestColumnToSurfacePPB(t *testing.T) {
	tests := []struct {
		name      string
		pollutant types.Pollutant
		column    float64
		want      float64
	}{
		{"no2", types.NO2, 2.5e15, 0.875},
		{"hcho", types.HCHO, 1.0e16, 2.8},
		{"o3 molecules", types.O3, 2.69e16 * 300, 30.0}, // 300 DU
		{"o3 already in DU", types.O3, 280.0, 28.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := columnToSurfacePPB(tt.pollutant, tt.column)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("columnToSurfacePPB(%s, %g) = %v, want %v", tt.pollutant, tt.column, got, tt.want)
			}
		})
	}
}

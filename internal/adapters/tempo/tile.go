package tempo

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/airfuse/airfuse/internal/types"
	"github.com/ctessum/cdf"
)

const (
	qualityVariable = "product/main_data_quality_flag"
	cloudVariable   = "support_data/eff_cloud_fraction"
	latitudeAxis    = "latitude"
	longitudeAxis   = "longitude"
)

// maxCloudFraction is the NASA-compliant cloud screening threshold.
const maxCloudFraction = 0.2

// columnScale is the column density, in molecules/cm², that the
// surface-ppb conversion factors are expressed against.
const columnScale = 1e16

// columnToPPB holds per-gas factors converting a scaled tropospheric
// column to approximate surface ppb.
var columnToPPB = map[types.Pollutant]float64{
	types.NO2:  3.5,
	types.HCHO: 2.8,
}

// moleculesPerDU converts a total column in molecules/cm² to Dobson units.
const moleculesPerDU = 2.69e16

// ozoneDUToPPB is the factor from a total O3 column in DU to an
// approximate surface mixing ratio in ppb.
const ozoneDUToPPB = 0.1

// pixel is the single-pixel read used for one gas: the column value plus
// the co-located quality flag and cloud fraction.
type pixel struct {
	value         float64
	fill          float64
	hasFill       bool
	qualityFlag   float64
	cloudFraction float64
}

// readNearestPixel opens the granule and reads the pixel nearest to the
// target coordinate, plus its quality-flag and cloud-fraction pixels.
// Only the coordinate axes and three single-pixel hyperslabs are read;
// the data arrays themselves are never loaded whole.
func readNearestPixel(f cdf.ReaderWriterAt, variable string, lat, lon float64) (pixel, error) {
	nc, err := cdf.Open(f)
	if err != nil {
		return pixel{}, fmt.Errorf("opening granule: %w", err)
	}

	lats, err := readAxis(nc, latitudeAxis)
	if err != nil {
		return pixel{}, err
	}
	lons, err := readAxis(nc, longitudeAxis)
	if err != nil {
		return pixel{}, err
	}
	i := nearestIndex(lats, lat)
	j := nearestIndex(lons, lon)

	px := pixel{}
	px.value, err = readPixelValue(nc, variable, i, j)
	if err != nil {
		return pixel{}, err
	}
	px.qualityFlag, err = readPixelValue(nc, qualityVariable, i, j)
	if err != nil {
		return pixel{}, err
	}
	px.cloudFraction, err = readPixelValue(nc, cloudVariable, i, j)
	if err != nil {
		return pixel{}, err
	}
	if fill, ok := fillValue(nc, variable); ok {
		px.fill = fill
		px.hasFill = true
	}
	return px, nil
}

// evaluatePixel applies the NASA-compliant filters and converts an
// accepted column density to surface ppb. Rejected pixels come back with
// quality "filtered" and a human-readable reason.
func evaluatePixel(pollutant types.Pollutant, px pixel, now time.Time) types.Measurement {
	m := types.Measurement{
		Pollutant:  pollutant,
		Source:     types.SourceTEMPO,
		Units:      types.UnitPPB,
		ObservedAt: now,
	}

	switch {
	case px.qualityFlag != 0:
		m.Quality = types.QualityFiltered
		m.FilterReason = fmt.Sprintf("quality flag %.0f (need 0)", px.qualityFlag)
	case px.cloudFraction >= maxCloudFraction:
		m.Quality = types.QualityFiltered
		m.FilterReason = fmt.Sprintf("cloud fraction %.2f exceeds %.2f", px.cloudFraction, maxCloudFraction)
	case math.IsNaN(px.value):
		m.Quality = types.QualityFiltered
		m.FilterReason = "value is NaN"
	case px.hasFill && px.value == px.fill:
		m.Quality = types.QualityFiltered
		m.FilterReason = "value is fill"
	case px.value <= 0:
		m.Quality = types.QualityFiltered
		m.FilterReason = fmt.Sprintf("non-positive column %.3g", px.value)
	default:
		m.Quality = types.QualityNASACompliant
		m.Value = columnToSurfacePPB(pollutant, px.value)
	}
	return m
}

// columnToSurfacePPB converts a column density to approximate surface
// ppb using the per-gas factors; O3 goes through Dobson units.
func columnToSurfacePPB(pollutant types.Pollutant, column float64) float64 {
	if pollutant == types.O3 {
		du := column
		// Total O3 columns arrive in molecules/cm²; some reprocessed
		// granules already report DU.
		if column > 1e10 {
			du = column / moleculesPerDU
		}
		return du * ozoneDUToPPB
	}
	return column / columnScale * columnToPPB[pollutant]
}

// nearestIndex is a 1-D argmin over a coordinate axis.
func nearestIndex(axis []float64, target float64) int {
	best := 0
	bestDelta := math.Abs(axis[0] - target)
	for i, v := range axis {
		if d := math.Abs(v - target); d < bestDelta {
			best, bestDelta = i, d
		}
	}
	return best
}

// readAxis reads a full 1-D coordinate variable.
func readAxis(nc *cdf.File, name string) ([]float64, error) {
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading axis %s: %w", name, err)
	}
	vals, err := toFloat64s(buf)
	if err != nil {
		return nil, fmt.Errorf("axis %s: %w", name, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("axis %s is empty", name)
	}
	return vals, nil
}

// readPixelValue reads the single (i, j) element of a gridded variable,
// tolerating a leading length-1 time dimension.
func readPixelValue(nc *cdf.File, variable string, i, j int) (float64, error) {
	dims := nc.Header.Lengths(variable)
	var start, end []int
	switch len(dims) {
	case 2:
		start, end = []int{i, j}, []int{i + 1, j + 1}
	case 3:
		start, end = []int{0, i, j}, []int{1, i + 1, j + 1}
	default:
		return 0, fmt.Errorf("variable %s has unsupported rank %d", variable, len(dims))
	}

	r := nc.Reader(variable, start, end)
	buf := r.Zero(1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return 0, fmt.Errorf("reading %s[%d,%d]: %w", variable, i, j, err)
	}
	vals, err := toFloat64s(buf)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("pixel read of %s returned no data", variable)
	}
	return vals[0], nil
}

func fillValue(nc *cdf.File, variable string) (float64, bool) {
	attr := nc.Header.GetAttribute(variable, "_FillValue")
	if attr == nil {
		return 0, false
	}
	switch v := attr.(type) {
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return 0, false
}

func toFloat64s(buf interface{}) ([]float64, error) {
	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	case []int8:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported data type %T", buf)
	}
}

// Package openmeteo fetches current weather from the Open-Meteo GFS
// endpoint. It serves as the weather context for locations outside the
// atmospheric model's coverage, and needs no API key.
package openmeteo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/types"
	"go.uber.org/zap"
)

const currentParams = "temperature_2m,relative_humidity_2m,windspeed_10m,winddirection_10m,weather_code"

// Source fetches current weather from Open-Meteo.
type Source struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

type currentResponse struct {
	Current struct {
		Time               string  `json:"time"`
		Temperature2m      float64 `json:"temperature_2m"`
		RelativeHumidity2m float64 `json:"relative_humidity_2m"`
		WindSpeed10m       float64 `json:"windspeed_10m"`
		WindDirection10m   float64 `json:"winddirection_10m"`
		WeatherCode        int     `json:"weather_code"`
	} `json:"current"`
}

// New creates an Open-Meteo weather source.
func New(baseURL string, logger *zap.SugaredLogger) *Source {
	return &Source{
		baseURL: baseURL,
		client:  &http.Client{Timeout: adapters.FetchTimeout},
		logger:  logger.Named("openmeteo"),
	}
}

// Name returns the source identifier.
func (s *Source) Name() types.SourceID {
	return types.SourceOpenMeteo
}

// FetchWeather retrieves the current conditions for the location.
func (s *Source) FetchWeather(ctx context.Context, lat, lon float64, now time.Time) (*types.Weather, types.Diagnostics) {
	diag := adapters.NewDiagnostics(types.SourceOpenMeteo)
	started := time.Now()
	defer func() { diag.LatencyMS = time.Since(started).Milliseconds() }()

	url := fmt.Sprintf("%s/v1/gfs?latitude=%.4f&longitude=%.4f&current=%s",
		s.baseURL, lat, lon, currentParams)

	var resp currentResponse
	attempts, err := adapters.GetJSON(ctx, s.client, url, &resp)
	diag.Attempts = attempts
	if err != nil {
		adapters.RecordError(&diag, adapters.ClassifyError(err), "open-meteo fetch failed: %v", err)
		s.logger.Warnw("Open-Meteo fetch failed", "error", err, "lat", lat, "lon", lon)
		return nil, diag
	}

	cur := resp.Current
	// Open-Meteo reports wind in km/h.
	windMS := cur.WindSpeed10m / 3.6
	w := &types.Weather{
		TemperatureC: ptr(cur.Temperature2m),
		HumidityPct:  ptr(cur.RelativeHumidity2m),
		WindSpeedMS:  ptr(windMS),
		WindDirDeg:   ptr(cur.WindDirection10m),
		Source:       types.SourceOpenMeteo,
	}
	s.logger.Debugw("Open-Meteo weather fetched",
		"temp_c", cur.Temperature2m, "humidity", cur.RelativeHumidity2m, "wind_ms", windMS)
	return w, diag
}

func ptr(v float64) *float64 { return &v }

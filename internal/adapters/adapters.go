// Package adapters defines the contract between the concurrent collector
// and the external data sources, plus the retry helper shared by the
// HTTP-based adapters. Adapters never return errors across the boundary;
// every failure is captured in the returned diagnostics.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airfuse/airfuse/internal/types"
	"github.com/cenkalti/backoff/v4"
)

// FetchTimeout is the soft per-adapter deadline. The collector applies a
// separate hard deadline across all adapters.
const FetchTimeout = 30 * time.Second

// maxRetries is the number of retries after the first attempt.
const maxRetries = 2

// retryInterval is the back-off between attempts.
const retryInterval = 2 * time.Second

// Result is the outcome of one adapter fetch. Measurements may be empty
// on failure; Weather is populated only by sources that surface
// meteorology alongside pollutants.
type Result struct {
	Measurements map[types.Pollutant]types.Measurement
	Weather      *types.Weather
	Diagnostics  types.Diagnostics
}

// Adapter fetches per-pollutant measurements for one location.
type Adapter interface {
	Name() types.SourceID
	Fetch(ctx context.Context, lat, lon float64, now time.Time) Result
}

// WeatherSource fetches the meteorological context for one location.
type WeatherSource interface {
	Name() types.SourceID
	FetchWeather(ctx context.Context, lat, lon float64, now time.Time) (*types.Weather, types.Diagnostics)
}

// HTTPStatusError marks a non-2xx response. 4xx responses are permanent
// and are not retried.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// GetJSON issues a GET request with retries and decodes the JSON body
// into out. It returns the number of attempts made.
func GetJSON(ctx context.Context, client *http.Client, url string, out interface{}) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(&HTTPStatusError{StatusCode: resp.StatusCode, URL: url})
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response from %s: %w", url, err))
		}
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxRetries), ctx)
	err := backoff.Retry(op, bo)
	return attempts, err
}

// NewDiagnostics starts a diagnostics record for one fetch.
func NewDiagnostics(source types.SourceID) types.Diagnostics {
	return types.Diagnostics{Source: source, Attempts: 1}
}

// RecordError appends a typed error to the diagnostics.
func RecordError(d *types.Diagnostics, kind types.ErrorKind, format string, args ...interface{}) {
	d.Errors = append(d.Errors, types.SourceError{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// ClassifyError maps a transport error to the error kind carried in
// diagnostics. Context cancellation and 5xx responses are transient.
func ClassifyError(err error) types.ErrorKind {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
		return types.ErrNoDataInRange
	}
	return types.ErrTransientUpstream
}

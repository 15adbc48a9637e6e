// Package tempo reads TEMPO level-3 satellite tiles from the ASDC S3
// store. For each gas it lists the day's granules, downloads the most
// recent into a local blob cache, and reads a single nearest pixel plus
// its quality flag and cloud fraction. Column densities that pass the
// NASA-compliant filters are converted to approximate surface ppb.
package tempo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/airfuse/airfuse/internal/adapters"
	"github.com/airfuse/airfuse/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// blobCacheTTL is how long a downloaded granule is reused before the
// listing is consulted again. Caching is at the blob level only; the
// pixel read itself always runs fresh.
const blobCacheTTL = time.Hour

// s3Region is the region the ASDC buckets live in.
const s3Region = "us-west-2"

// gases lists the TEMPO products read per fetch.
var gases = []gasProduct{
	{pollutant: types.NO2, product: "TEMPO_NO2_L3_V03", variable: "product/vertical_column_troposphere"},
	{pollutant: types.HCHO, product: "TEMPO_HCHO_L3_V03", variable: "product/vertical_column"},
	{pollutant: types.O3, product: "TEMPO_O3TOT_L3_V03", variable: "product/vertical_column"},
}

type gasProduct struct {
	pollutant types.Pollutant
	product   string
	variable  string
}

// S3API is the slice of the S3 client the adapter uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Adapter reads TEMPO tiles for NO2, HCHO and total O3 columns.
type Adapter struct {
	bucket   string
	credsURL string
	bearer   string
	cacheDir string
	client   *http.Client
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	s3Client S3API
	blobs    map[string]cachedBlob
}

type cachedBlob struct {
	path      string
	key       string
	fetchedAt time.Time
}

// New creates a TEMPO adapter. The S3 client is built lazily on first
// fetch so that start-up does not require live EarthData credentials.
func New(bucket, credsURL, bearerToken, cacheDir string, logger *zap.SugaredLogger) *Adapter {
	return &Adapter{
		bucket:   bucket,
		credsURL: credsURL,
		bearer:   bearerToken,
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: adapters.FetchTimeout},
		logger:   logger.Named("tempo"),
		blobs:    make(map[string]cachedBlob),
	}
}

// NewWithClient creates a TEMPO adapter around an existing S3 client.
func NewWithClient(bucket, cacheDir string, client S3API, logger *zap.SugaredLogger) *Adapter {
	a := New(bucket, "", "", cacheDir, logger)
	a.s3Client = client
	return a
}

// Name returns the source identifier.
func (a *Adapter) Name() types.SourceID {
	return types.SourceTEMPO
}

// Fetch reads the nearest pixel for each gas. Filtered pixels are
// returned with quality "filtered" and a reason; they are preserved for
// auditing but never used downstream.
func (a *Adapter) Fetch(ctx context.Context, lat, lon float64, now time.Time) adapters.Result {
	diag := adapters.NewDiagnostics(types.SourceTEMPO)
	started := time.Now()
	defer func() { diag.LatencyMS = time.Since(started).Milliseconds() }()

	client, err := a.s3(ctx)
	if err != nil {
		adapters.RecordError(&diag, types.ErrTransientUpstream, "S3 client unavailable: %v", err)
		return adapters.Result{Diagnostics: diag}
	}

	type gasResult struct {
		gas         gasProduct
		measurement *types.Measurement
		err         error
	}

	results := make(chan gasResult, len(gases))
	var wg sync.WaitGroup
	for _, gas := range gases {
		wg.Add(1)
		go func(gas gasProduct) {
			defer wg.Done()
			m, err := a.fetchGas(ctx, client, gas, lat, lon, now)
			results <- gasResult{gas: gas, measurement: m, err: err}
		}(gas)
	}
	wg.Wait()
	close(results)

	measurements := make(map[types.Pollutant]types.Measurement)
	for r := range results {
		if r.err != nil {
			adapters.RecordError(&diag, types.ErrTransientUpstream,
				"TEMPO %s read failed: %v", r.gas.product, r.err)
			continue
		}
		if r.measurement == nil {
			continue
		}
		if r.measurement.Quality == types.QualityFiltered {
			diag.FilterReasons = append(diag.FilterReasons,
				fmt.Sprintf("%s: %s", r.gas.pollutant, r.measurement.FilterReason))
		}
		measurements[r.measurement.Pollutant] = *r.measurement
	}
	diag.Attempts = 1

	a.logger.Debugw("TEMPO fetch complete",
		"pixels", len(measurements), "filtered", len(diag.FilterReasons))
	return adapters.Result{Measurements: measurements, Diagnostics: diag}
}

func (a *Adapter) fetchGas(ctx context.Context, client S3API, gas gasProduct, lat, lon float64, now time.Time) (*types.Measurement, error) {
	path, err := a.granulePath(ctx, client, gas, now)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cached granule: %w", err)
	}
	defer f.Close()

	px, err := readNearestPixel(f, gas.variable, lat, lon)
	if err != nil {
		return nil, err
	}

	m := evaluatePixel(gas.pollutant, px, now)
	return &m, nil
}

// granulePath returns a local file holding the most recent granule for
// the gas, downloading it unless a fresh cached copy exists.
func (a *Adapter) granulePath(ctx context.Context, client S3API, gas gasProduct, now time.Time) (string, error) {
	a.mu.Lock()
	cached, ok := a.blobs[gas.product]
	a.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < blobCacheTTL {
		return cached.path, nil
	}

	key, err := a.latestKey(ctx, client, gas, now)
	if err != nil {
		return "", err
	}
	if ok && cached.key == key {
		// Same granule as last time; refresh the cache clock.
		a.mu.Lock()
		cached.fetchedAt = time.Now()
		a.blobs[gas.product] = cached
		a.mu.Unlock()
		return cached.path, nil
	}

	path, err := a.download(ctx, client, gas, key)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.blobs[gas.product] = cachedBlob{path: path, key: key, fetchedAt: time.Now()}
	a.mu.Unlock()
	return path, nil
}

// latestKey lists today's granules (falling back to yesterday) and
// returns the lexically last .nc key, which sorts by acquisition time.
func (a *Adapter) latestKey(ctx context.Context, client S3API, gas gasProduct, now time.Time) (string, error) {
	for _, day := range []time.Time{now.UTC(), now.UTC().AddDate(0, 0, -1)} {
		prefix := fmt.Sprintf("TEMPO/%s/%s/", gas.product, day.Format("2006.01.02"))
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(a.bucket),
			Prefix: aws.String(prefix),
		})
		if err != nil {
			return "", fmt.Errorf("listing %s: %w", prefix, err)
		}

		var keys []string
		for _, obj := range out.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".nc") {
				keys = append(keys, *obj.Key)
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			return keys[len(keys)-1], nil
		}
	}
	return "", fmt.Errorf("no %s granules for today or yesterday", gas.product)
}

func (a *Adapter) download(ctx context.Context, client S3API, gas gasProduct, key string) (string, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.cacheDir, gas.product+".nc")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("downloading %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	a.logger.Infow("TEMPO granule cached", "key", key, "path", path)
	return path, nil
}

// s3 returns the S3 client, building it with EarthData temporary
// credentials on first use.
func (a *Adapter) s3(ctx context.Context) (S3API, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.s3Client != nil {
		return a.s3Client, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s3Region),
		awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(&earthDataProvider{
			credsURL: a.credsURL,
			bearer:   a.bearer,
			client:   a.client,
		})),
	)
	if err != nil {
		return nil, fmt.Errorf("building AWS config: %w", err)
	}
	a.s3Client = s3.NewFromConfig(cfg)
	return a.s3Client, nil
}

// earthDataProvider fetches temporary S3 credentials from the EarthData
// endpoint using the pre-provisioned bearer token. The credentials cache
// wrapping it handles refresh on expiry.
type earthDataProvider struct {
	credsURL string
	bearer   string
	client   *http.Client
}

type earthDataCredentials struct {
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Expiration      time.Time `json:"expiration"`
}

func (p *earthDataProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.credsURL, nil)
	if err != nil {
		return aws.Credentials{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.bearer)

	resp, err := p.client.Do(req)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("fetching EarthData credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return aws.Credentials{}, fmt.Errorf("EarthData credentials endpoint returned %d", resp.StatusCode)
	}

	var creds earthDataCredentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return aws.Credentials{}, fmt.Errorf("decoding EarthData credentials: %w", err)
	}

	static := credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	out, err := static.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	out.CanExpire = true
	out.Expires = creds.Expiration
	return out, nil
}

package collector

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"StooqSync/internal/model"
)

const (
	DefaultBaseURL = "https://stooq.com"
	DefaultTimeout = 60 * time.Second

	historyPath = "/q/d/l/"
	dateLayout  = "20060102"

	bodyHitsLimit = "Exceeded the daily hits limit"
	bodyNoData    = "No data"
)

// Options configures a StooqFetcher.
type Options struct {
	BaseURL string
	// CertFile is a PEM bundle of trusted roots. Ignored when it does not exist.
	CertFile string
	// CookieFile persists cookies between calls and runs. Empty disables persistence.
	CookieFile string
	// DisableCookies turns the cookie engine off entirely.
	DisableCookies    bool
	Timeout           time.Duration
	Proxy             string
	RequestsPerSecond float64
}

// StooqFetcher downloads aggregate bars from stooq.com. It owns its HTTP client
// for the process lifetime; call Close at shutdown.
type StooqFetcher struct {
	BaseURL string
	Client  *http.Client
	jar     *cookiejar.Jar
	limiter *rate.Limiter
}

// NewStooqFetcher builds the HTTP client. Every failure here is KindTransportInit.
func NewStooqFetcher(opts Options) (*StooqFetcher, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		// Keep Content-Encoding visible; bodies are decoded here.
		DisableCompression: true,
	}
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, newFetchError(KindTransportInit, 0, fmt.Errorf("parse proxy: %w", err))
		}
		transport.Proxy = http.ProxyURL(u)
	}
	if opts.CertFile != "" {
		pool, err := loadCertPool(opts.CertFile)
		if err != nil {
			return nil, newFetchError(KindTransportInit, 0, err)
		}
		if pool != nil {
			transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		}
	}

	f := &StooqFetcher{
		BaseURL: strings.TrimRight(opts.BaseURL, "/"),
		Client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}
	if !opts.DisableCookies {
		jar, err := cookiejar.New(&cookiejar.Options{
			Filename:  opts.CookieFile,
			NoPersist: opts.CookieFile == "",
		})
		if err != nil {
			return nil, newFetchError(KindTransportInit, 0, fmt.Errorf("cookie jar: %w", err))
		}
		f.jar = jar
		f.Client.Jar = jar
	}
	if opts.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return f, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("certificate bundle %s not found, using system roots", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read certificate bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

func (f *StooqFetcher) Name() string { return "stooq" }

// Close persists the cookie jar.
func (f *StooqFetcher) Close() error {
	f.Client.CloseIdleConnections()
	return f.saveCookies()
}

func (f *StooqFetcher) saveCookies() error {
	if f.jar == nil {
		return nil
	}
	return f.jar.Save()
}

// HistoryURL builds the download URL for an inclusive date range.
func (f *StooqFetcher) HistoryURL(symbol string, period model.Period, start, end time.Time) (string, error) {
	code, err := period.Code()
	if err != nil {
		return "", newFetchError(KindInvalidParameter, 0, err)
	}
	q := url.Values{}
	q.Set("s", strings.ToLower(symbol))
	q.Set("d1", start.UTC().Format(dateLayout))
	q.Set("d2", end.UTC().Format(dateLayout))
	q.Set("i", code)
	return f.BaseURL + historyPath + "?" + q.Encode(), nil
}

// Fetch downloads the raw CSV body for symbol between start and end inclusive.
func (f *StooqFetcher) Fetch(ctx context.Context, symbol string, period model.Period, start, end time.Time) (string, error) {
	u, err := f.HistoryURL(symbol, period, start, end)
	if err != nil {
		return "", err
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", newFetchError(KindWaitingPeriod, 0, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", newFetchError(KindRequestFailed, 0, err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	log.Debugf("GET %s", u)
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", newFetchError(KindRequestFailed, 0, err)
	}
	defer resp.Body.Close()
	defer func() {
		if err := f.saveCookies(); err != nil {
			log.Warnf("save cookies: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newFetchError(KindRequestFailed, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	body, err := decodeResponse(resp.StatusCode, resp.Header, raw)
	if err != nil {
		return "", err
	}
	if err := providerError(body); err != nil {
		return "", err
	}
	return body, nil
}

// FetchCandles downloads and parses one window of bars.
func (f *StooqFetcher) FetchCandles(ctx context.Context, symbol string, period model.Period, start, end time.Time) ([]model.Candle, error) {
	body, err := f.Fetch(ctx, symbol, period, start, end)
	if err != nil {
		return nil, err
	}
	return ParseCandles(body), nil
}

// decodeResponse applies the status and Content-Encoding rules to a raw body.
func decodeResponse(status int, header http.Header, raw []byte) (string, error) {
	if status != http.StatusOK {
		return "", statusError(status, header)
	}
	encoding := strings.ToLower(header.Get("Content-Encoding"))
	switch {
	case encoding == "":
		return string(raw), nil
	case strings.Contains(encoding, "gzip"):
		if len(raw) == 0 {
			return "", newFetchError(KindNoAnswer, status, nil)
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return "", newFetchError(KindContentEncoding, status, fmt.Errorf("gzip: %w", err))
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return "", newFetchError(KindContentEncoding, status, fmt.Errorf("gzip: %w", err))
		}
		return string(out), nil
	case strings.Contains(encoding, "identity"):
		return string(raw), nil
	default:
		return "", newFetchError(KindContentEncoding, status, fmt.Errorf("encoding %q", encoding))
	}
}

func statusError(status int, header http.Header) error {
	kind := KindRequestFailed
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusTeapot:
		kind = KindIPBlocked
	case http.StatusForbidden:
		kind = KindWAFLimit
	}
	fe := newFetchError(kind, status, nil)
	fe.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	return fe
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// providerError recognises the plain-text notices stooq sends with status 200.
func providerError(body string) error {
	trimmed := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(trimmed, bodyHitsLimit):
		return newFetchError(KindRateLimited, http.StatusOK, fmt.Errorf("%s", trimmed))
	case strings.EqualFold(trimmed, bodyNoData):
		return newFetchError(KindDataNotAvailable, http.StatusOK, nil)
	}
	return nil
}

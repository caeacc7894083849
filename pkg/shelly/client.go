package shelly

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const maxStatusBodyBytes = 1 << 20

type Client interface {
	GetStatus(ctx context.Context) (*Status, error)
}

type HTTPClient struct {
	http       *http.Client
	statusURL  string
	username   string
	password   string
	instrument []Instrument
}

func traceLoggerInstrumentation(logger *zap.Logger) *Instrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &Instrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Sugar().Debugf("shelly [%s]: %d millis", fnName, readTime.Milliseconds())
		},
	}
}

func StatusURL(host string, generation int) string {
	u := url.URL{Scheme: "http", Host: host, Path: "/status"}
	if generation >= 2 {
		u.Path = "/rpc/Shelly.GetStatus"
	}
	return u.String()
}

func CreateHTTPClient(host, username, password string, generation int, timeout time.Duration,
	logger *zap.Logger, instrumentation *Instrument) (Client, error) {
	if host == "" {
		return nil, fmt.Errorf("shelly: empty host")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("shelly: request timeout must be > 0")
	}
	// instrumentation
	var inst []Instrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "shelly")).With(zap.String("host", host)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &HTTPClient{
		http:       &http.Client{Timeout: timeout},
		statusURL:  StatusURL(host, generation),
		username:   username,
		password:   password,
		instrument: inst,
	}, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context) (*Status, error) {
	defer RecordTimer("GetStatus", c.instrument)()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: no response from %s: %w", ErrFetch, c.statusURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrFetch, c.statusURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	return DecodeStatus(body)
}

// ensure interface compliance
var _ Client = (*HTTPClient)(nil)

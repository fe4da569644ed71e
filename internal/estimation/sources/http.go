package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cowprotocol/services-sub002/internal/estimation"
)

const (
	httpRequestTimeout     = 10 * time.Second
	backoffInitialInterval = 100 * time.Millisecond
	backoffMaxInterval     = 2 * time.Second
)

// HTTPSource fetches native prices from a JSON endpoint of the form
// GET {base}/price?token={address} responding with {"price": <number>}.
// Transient failures are retried with exponential backoff; permanent ones
// abort immediately.
type HTTPSource struct {
	name    string
	baseURL string
	client  *http.Client
	retries uint
	logger  *zap.Logger
}

func NewHTTPSource(name, baseURL string, retries uint, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: httpRequestTimeout},
		retries: retries,
		logger:  logger.Named(name),
	}
}

func (s *HTTPSource) Name() string {
	return s.name
}

// EstimateNativePrice implements native.Estimating.
func (s *HTTPSource) EstimateNativePrice(ctx context.Context, token estimation.Token) (float64, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = backoffInitialInterval
	policy.MaxInterval = backoffMaxInterval

	operation := func() (float64, error) {
		price, err := s.fetchOnce(ctx, token)
		if err != nil && !estimation.IsTransient(err) {
			return 0, backoff.Permanent(err)
		}
		return price, err
	}
	notify := func(err error, delay time.Duration) {
		s.logger.Debug("retrying native price request",
			zap.String("token", token.String()),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.retries),
		backoff.WithNotify(notify),
	)
}

func (s *HTTPSource) fetchOnce(ctx context.Context, token estimation.Token) (float64, error) {
	endpoint := fmt.Sprintf("%s/price?token=%s", s.baseURL, url.QueryEscape(token.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, estimation.ProtocolInternal(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, estimation.EstimatorInternal(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, estimation.RateLimited()
	case resp.StatusCode == http.StatusNotFound:
		return 0, estimation.NoLiquidity()
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return 0, estimation.UnsupportedToken(token,
			fmt.Sprintf("%s responded with status %d", s.name, resp.StatusCode))
	case resp.StatusCode >= 500:
		return 0, estimation.EstimatorInternal(
			fmt.Errorf("%s responded with status %d", s.name, resp.StatusCode))
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, estimation.EstimatorInternal(fmt.Errorf("decoding %s response: %w", s.name, err))
	}
	return body.Price, nil
}

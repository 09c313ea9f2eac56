package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/airq-calibration/internal/airq"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// ErrUnavailable wraps every failure to reach the backend (transport errors,
// exhausted retries, open circuit).
var ErrUnavailable = errors.New("backend unavailable")

// APIError is an error reported by the backend itself, either through a
// non-2xx status or a success:false envelope.
type APIError struct {
	Status     int
	Message    string
	Query      string
	Suggestion string
}

// suggestManualMode is the hint the prediction endpoint sends when it has no
// sensor readings for the requested date.
const suggestManualMode = "use_manual_mode"

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap exposes the backend's hint as a domain error.
func (e *APIError) Unwrap() error {
	if e.Suggestion == suggestManualMode {
		return airq.ErrManualInputRequired
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// errorBody is the error envelope every endpoint shares.
type errorBody struct {
	Success    *bool  `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Query      string `json:"query"`
	Suggestion string `json:"suggestion"`
}

func apiErrorFrom(resp *http.Response) *APIError {
	defer resp.Body.Close()

	apiErr := &APIError{
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("backend returned status %d", resp.StatusCode),
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(body) == 0 {
		return apiErr
	}
	var eb errorBody
	if json.Unmarshal(body, &eb) != nil {
		return apiErr
	}
	switch {
	case eb.Suggestion != "" && eb.Message != "":
		// The hint's message tells the user what to do next.
		apiErr.Message = eb.Message
	case eb.Error != "":
		apiErr.Message = eb.Error
	case eb.Message != "":
		apiErr.Message = eb.Message
	}
	apiErr.Query = eb.Query
	apiErr.Suggestion = eb.Suggestion
	return apiErr
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker. Only transport errors, 429 and 5xx are retried; any
// other non-2xx status comes back as an *APIError straight away.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			apiErr := apiErrorFrom(resp)
			if apiErr.retryable() {
				return nil, apiErr
			}
			// Client errors say nothing about backend health.
			return apiErr, nil
		})

		if err == nil {
			switch v := result.(type) {
			case *http.Response:
				return v, nil
			case *APIError:
				return nil, v
			default:
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w: %v", ErrUnavailable, errCircuitOpen, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= cfg.Backoff.MaxRetries {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return nil, apiErr
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

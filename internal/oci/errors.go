package oci

import (
	"context"
	"errors"
	"net/http"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// statusCoder is implemented by SDK service errors
type statusCoder interface {
	GetHTTPStatusCode() int
}

// Classify wraps an SDK failure in a *provider.Error.
//
//   - 429 is RateLimited
//   - 401 is AuthExpired
//   - 408 and 5xx are Transient
//   - other 4xx are Permanent
//   - errors without a status (network, timeouts) are Transient
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.Transient, op, err)
	}

	var sc statusCoder
	if !errors.As(err, &sc) {
		return provider.NewError(provider.Transient, op, err)
	}
	return provider.NewError(kindForStatus(sc.GetHTTPStatusCode()), op, err)
}

func kindForStatus(status int) provider.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return provider.RateLimited
	case status == http.StatusUnauthorized:
		return provider.AuthExpired
	case status == http.StatusRequestTimeout, status >= 500:
		return provider.Transient
	case status >= 400:
		return provider.Permanent
	default:
		return provider.Transient
	}
}

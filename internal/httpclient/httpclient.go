// Package httpclient builds the HTTP clients used to reach the conversion
// service.
package httpclient

import (
	"net/http"
	"time"

	"docuflow/internal/logging"
)

// New returns an http.Client configured for outbound requests.
//
// It respects HTTP(S)_PROXY/NO_PROXY via the default transport's proxy
// policy. A zero timeout falls back to 30s; pass a larger value for upload
// requests that carry whole files.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logging.OrNop(logger).Debug("http client created (timeout=%v)", timeout)

	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(),
	}
}

// Transport returns an http.Transport clone suitable for outbound calls.
func Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	return base.Clone()
}

package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns an http.Client instrumented with otelhttp transport.
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// WithHeaders wraps client's transport so every outgoing request carries the
// given headers, without overriding a header the caller already set (e.g. a
// self-hosted endpoint's extra auth or routing headers alongside a
// per-request Authorization already set by the SDK).
func WithHeaders(client *http.Client, headers map[string]string) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	if len(headers) == 0 {
		return client
	}
	rt := client.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	client.Transport = &headerTransport{base: rt, headers: headers}
	return client
}

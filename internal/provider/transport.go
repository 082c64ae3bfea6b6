package provider

import (
	"net"
	"net/http"
	"net/url"
	"time"
)

// newHTTPClient builds the client a provider uses for its calls. Each
// provider gets its own transport so the proxy setting of one never leaks
// into the other. A nil proxy means direct connections, regardless of
// HTTP_PROXY/HTTPS_PROXY in the environment.
func newHTTPClient(proxy *url.URL, timeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	t.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = 10 * time.Second
	t.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: t,
		Timeout:   timeout,
	}
}

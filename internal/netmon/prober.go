package netmon

import (
	"context"
	"net/http"
	"time"
)

// HTTPProber probes connectivity by hitting a health endpoint. It stands
// in for the platform connectivity API on hosts without one: a reachable
// health endpoint means connected and internet-reachable.
type HTTPProber struct {
	url            string
	connectionType string
	client         *http.Client
}

// NewHTTPProber creates a prober against the given health URL
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{
		url:            url,
		connectionType: "wifi",
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// SetConnectionType overrides the connection type reported while online
func (p *HTTPProber) SetConnectionType(t string) {
	p.connectionType = t
}

// Probe performs one connectivity check
func (p *HTTPProber) Probe(ctx context.Context) (Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Probe{ConnectionType: "none"}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Probe{ConnectionType: "none"}, nil
	}
	defer resp.Body.Close()

	reachable := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !reachable {
		return Probe{Connected: true, InternetReachable: false, ConnectionType: p.connectionType}, nil
	}
	return Probe{Connected: true, InternetReachable: true, ConnectionType: p.connectionType}, nil
}

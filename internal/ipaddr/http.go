package ipaddr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds a single lookup service call.
const DefaultHTTPTimeout = 2 * time.Second

// maxLookupBody caps how much of a lookup response is read.
const maxLookupBody = 64 << 10

// Provider is a public address lookup service returning a JSON object.
type Provider struct {
	Name string
	URL  string

	// Field is the JSON key holding the address.
	Field string
}

// DefaultProviders are tried in this order.
var DefaultProviders = []Provider{
	{Name: "ipify", URL: "https://api.ipify.org?format=json", Field: "ip"},
	{Name: "ipapi", URL: "https://ipapi.co/json/", Field: "ip"},
	{Name: "db-ip", URL: "https://api.db-ip.com/v2/free/self", Field: "ipAddress"},
}

// HTTPLookup queries a provider. Only a 200 response whose field parses as an
// IP address counts as a result.
func HTTPLookup(client *http.Client, p Provider) Strategy {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var body map[string]any
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxLookupBody)).Decode(&body); err != nil {
			return "", fmt.Errorf("invalid response body: %w", err)
		}

		raw, _ := body[p.Field].(string)
		ip := net.ParseIP(raw)
		if ip == nil {
			return "", fmt.Errorf("field %q is not an address", p.Field)
		}
		return ip.String(), nil
	}
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// probeTimeout bounds each /json/version request.
const probeTimeout = 400 * time.Millisecond

var probeHosts = []string{"127.0.0.1", "localhost", "::1"}

// CDPVersion is the subset of /json/version a probe reads.
type CDPVersion struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DiscoverCDP asks each loopback address for the DevTools version of the
// browser listening on port and returns the first HTTP endpoint that
// answers.
func DiscoverCDP(ctx context.Context, client *http.Client, port int) (string, CDPVersion, error) {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	var lastErr error
	for _, host := range probeHosts {
		endpoint := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
		version, err := probeVersion(ctx, client, endpoint)
		if err == nil {
			return endpoint, version, nil
		}
		lastErr = err
	}
	return "", CDPVersion{}, fmt.Errorf("no DevTools endpoint on port %d: %w", port, lastErr)
}

func probeVersion(ctx context.Context, client *http.Client, endpoint string) (CDPVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return CDPVersion{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return CDPVersion{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CDPVersion{}, fmt.Errorf("%s/json/version: %s", endpoint, resp.Status)
	}
	var version CDPVersion
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return CDPVersion{}, fmt.Errorf("%s/json/version: %w", endpoint, err)
	}
	return version, nil
}

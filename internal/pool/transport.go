package pool

import (
	"net"
	"net/http"
	"time"

	"github.com/voletro/cordon/internal/config"
)

// HTTPClient builds the dedicated HTTP client for one endpoint's sessions.
// The transport encodes the endpoint's timeout tiers: dialing is bounded by
// the connect tier, the response-header wait by the read tier. The client
// itself carries no overall timeout — each attempt is bounded by its context.
func HTTPClient(cfg config.Endpoint) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.Timeouts.Connect,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   cfg.Timeouts.Connect,
			ResponseHeaderTimeout: cfg.Timeouts.Read,
			IdleConnTimeout:       cfg.KeepAliveExpiry,
			MaxIdleConnsPerHost:   int(cfg.MaxSessions),
			ForceAttemptHTTP2:     true,
		},
	}
}

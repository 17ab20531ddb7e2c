// Package api is the HTTP ingress. Every /api route is bearer-token
// authenticated; fleet mutations and the live event stream additionally
// require the admin role. /health and /metrics are open for probes and
// scrapers.
package api

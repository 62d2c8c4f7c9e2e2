// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobextract_requests_total",
			Help: "Total extraction requests, labeled by outcome and the stage that finished them.",
		},
		[]string{"outcome", "stage"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobextract_stage_duration_seconds",
			Help:    "Histogram of pipeline stage latencies, labeled by stage.",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"stage"},
	)

	browserSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobextract_browser_sessions_active",
			Help: "Number of browser processes currently owned by a request.",
		},
	)

	browserTeardownFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobextract_browser_teardown_failures_total",
			Help: "Total browser teardowns that returned an error.",
		},
	)

	extractionSitesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobextract_sites_total",
			Help: "Total extraction requests past validation, labeled by tracked site (or other) and outcome.",
		},
		[]string{"site", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite reduces a URL to a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// OtherSite is the site label for hosts outside the tracked set.
const OtherSite = "other"

// SiteSet is the allow-list of hostnames that get their own site label.
type SiteSet map[string]struct{}

// NewSiteSet normalizes hosts the same way SanitizeSite does. Blank entries
// are skipped.
func NewSiteSet(hosts []string) SiteSet {
	set := make(SiteSet, len(hosts))
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			continue
		}
		if site := SanitizeSite(strings.TrimSpace(h)); site != "unknown" {
			set[site] = struct{}{}
		}
	}
	return set
}

// Label returns the hostname of rawURL when it is tracked and OtherSite
// otherwise, so callers cannot mint new series.
func (s SiteSet) Label(rawURL string) string {
	site := SanitizeSite(rawURL)
	if _, ok := s[site]; ok {
		return site
	}
	return OtherSite
}

// ObserveExtraction records the final outcome of one pipeline run.
func ObserveExtraction(outcome, stage string) {
	extractionRequestsTotal.WithLabelValues(outcome, stage).Inc()
}

// ObserveSite counts a run against a site label from SiteSet.Label.
func ObserveSite(site, outcome string) {
	extractionSitesTotal.WithLabelValues(site, outcome).Inc()
}

// ObserveStage records how long a pipeline stage ran.
func ObserveStage(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncBrowserSessions marks a browser process as acquired.
func IncBrowserSessions() {
	browserSessionsActive.Inc()
}

// DecBrowserSessions marks a browser process as released.
func DecBrowserSessions() {
	browserSessionsActive.Dec()
}

// ObserveTeardownFailure counts a browser close that returned an error.
func ObserveTeardownFailure() {
	browserTeardownFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

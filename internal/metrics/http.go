package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Handler returns the Prometheus scrape handler for the default registry.
// Embedding applications can mount it on their own mux; the library itself
// never opens a listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

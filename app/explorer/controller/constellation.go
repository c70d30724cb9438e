package controller

import (
	"net/http"
	"strconv"

	"github.com/canopy-network/chainlens/pkg/utils"
	"github.com/gorilla/mux"
)

// HandleConstellation serves the bounded two-hop relationship graph for one
// address, behind the per-IP rate limiter and the coalescing response cache.
func (c *Controller) HandleConstellation(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !validAddress.MatchString(address) {
		writeError(w, http.StatusBadRequest, "invalid_address", "malformed address")
		return
	}

	// No upstream work for throttled identities.
	if ok, retryAfter := c.App.Governor.Allow(utils.ClientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	graph, err := c.App.Governor.Graph(r.Context(), address)
	if err != nil {
		c.writeUpstreamError(w, "constellation build failed", address, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=30, stale-while-revalidate=60")
	writeJSON(w, http.StatusOK, graph)
}

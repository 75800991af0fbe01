// Package api exposes the balancer's state over a small read-only HTTP
// API, served on a side port away from the dispatch path.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/balancer"
)

type controller struct {
	balancer *balancer.T
}

// NewHandler returns the routed status API for a running balancer.
func NewHandler(b *balancer.T) http.Handler {
	c := &controller{balancer: b}
	router := mux.NewRouter()
	router.HandleFunc("/v1/status", c.getStatus).Methods("GET")
	router.HandleFunc("/v1/workers", c.getWorkers).Methods("GET")
	router.HandleFunc("/v1/requests", c.getRequests).Methods("GET")
	return router
}

func (c *controller) getStatus(w http.ResponseWriter, r *http.Request) {
	reply(w, c.balancer.Snapshot())
}

func (c *controller) getWorkers(w http.ResponseWriter, r *http.Request) {
	reply(w, c.balancer.Snapshot().Workers)
}

func (c *controller) getRequests(w http.ResponseWriter, r *http.Request) {
	reply(w, map[string]int{"pending": c.balancer.Snapshot().Pending})
}

func reply(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("failed to encode API response: %v", err)
	}
}

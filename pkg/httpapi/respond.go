package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/runnerd/pkg/rerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a kinded rerr.Error to its HTTP status code; anything
// else is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch rerr.KindOf(err) {
	case rerr.NotFound:
		status = http.StatusNotFound
	case rerr.Conflict:
		status = http.StatusConflict
	case rerr.InvalidInput, rerr.RegexCompile:
		status = http.StatusBadRequest
	case rerr.Overloaded, rerr.SubscriberOverflow, rerr.NotifyQueueFull:
		status = http.StatusServiceUnavailable
	case rerr.TransportFailure, rerr.ChildSpawnFailed, rerr.PersistenceCorrupt:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

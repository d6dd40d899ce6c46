package handlers

import "net/http"

// HealthCheck reports process liveness for load balancers and uptime
// probes. It deliberately touches neither the source nor the target
// store.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "syncbridge"})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mindhaven/counseling-api/api"
	"github.com/mindhaven/counseling-api/config"
	"github.com/mindhaven/counseling-api/models"
)

// Metrics exposes the aggregated request metrics to admins
type Metrics struct {
	Collector *api.MetricsCollector
}

// MetricsHandler returns a snapshot of per-route request metrics
func (m Metrics) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok || principal.Kind != models.PrincipalAdmin {
		config.AppErrorStatus(w, models.NewForbiddenError("admin credential required", nil))
		return
	}

	routes, totalRequests, totalErrors := m.Collector.Snapshot()
	b, err := json.Marshal(map[string]interface{}{
		"success":       true,
		"totalRequests": totalRequests,
		"totalErrors":   totalErrors,
		"routes":        routes,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

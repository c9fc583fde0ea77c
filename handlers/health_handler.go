package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-chat/services"
)

type HealthHandler struct {
	healthService services.HealthService
}

func NewHealthHandler(hs services.HealthService) *HealthHandler {
	return &HealthHandler{healthService: hs}
}

// Healthz обрабатывает GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	report := h.healthService.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	if err := writeJSON(w, status, report, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"

	"envmon/internal/utils"
)

type healthcheckerImpl struct {
	db *sql.DB
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var ok int
	if err := h.db.QueryRow(`SELECT 1`).Scan(&ok); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB) {
	h := &healthcheckerImpl{db: db}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"envmon/internal/modules/env/repository"
	"envmon/internal/modules/env/types"
	"envmon/internal/modules/env/views"
	"envmon/internal/utils"
)

func (c *envControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := c.repository.Latest()
	if errors.Is(err, repository.ErrNoData) {
		utils.WriteError(w, http.StatusServiceUnavailable, "no data available")
		return
	}
	if err != nil {
		slog.Error("latest: repository failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load latest reading")
		return
	}
	utils.WriteJSON(w, http.StatusOK, reading)
}

func (c *envControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHoursQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.repository.History(hours)
	if errors.Is(err, repository.ErrInvalidRange) {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("history: repository failed", "hours", hours, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if readings == nil {
		readings = []types.Reading{}
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

func (c *envControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.RenderDashboard(w); err != nil {
		slog.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
	}
}

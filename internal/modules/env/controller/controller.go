package controller

import (
	"net/http"

	"envmon/internal/modules/env/repository"
)

type EnvController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type envControllerImpl struct {
	repository repository.ReadingRepository
}

func NewEnvController(repo repository.ReadingRepository) EnvController {
	return &envControllerImpl{repository: repo}
}

func (c *envControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", c.handleDashboard)
	mux.HandleFunc("GET /api/latest", c.handleLatest)
	mux.HandleFunc("GET /api/history", c.handleHistory)
}

package env

import (
	"net/http"

	"envmon/internal/modules/env/controller"
	"envmon/internal/modules/env/repository"
)

func RegisterFeature(mux *http.ServeMux, repo repository.ReadingRepository) {
	envController := controller.NewEnvController(repo)
	envController.RegisterRoutes(mux)
}

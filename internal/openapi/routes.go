package openapi

import (
	_ "embed"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/strefethen/tunegate/internal/api"
	"github.com/strefethen/tunegate/internal/apperrors"
)

//go:embed tunegate.v1.yaml
var embeddedSpec []byte

// RegisterRoutes wires OpenAPI routes to the router.
func RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/openapi", api.Handler(serveOpenAPIYAML()))
	router.Method(http.MethodGet, "/v1/openapi.json", api.Handler(serveOpenAPIJSON()))
}

// loadSpec returns the document at OPENAPI_SPEC_PATH when set and readable,
// otherwise the copy compiled into the binary.
func loadSpec() []byte {
	if envPath := os.Getenv("OPENAPI_SPEC_PATH"); envPath != "" {
		if spec, err := os.ReadFile(envPath); err == nil {
			return spec
		}
	}
	return embeddedSpec
}

func serveOpenAPIYAML() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(loadSpec())
		return nil
	}
}

func serveOpenAPIJSON() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		// Parse YAML and convert to JSON
		var parsed any
		if err := yaml.Unmarshal(loadSpec(), &parsed); err != nil {
			return apperrors.NewInternalError("Failed to parse OpenAPI specification")
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		return api.WriteJSON(w, http.StatusOK, parsed)
	}
}

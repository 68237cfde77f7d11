package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/wizard/model"
)

// TemplateCatalog is the read side of the template registry used by the
// catalog endpoints.
type TemplateCatalog interface {
	Get(id string) (model.Template, bool)
	Listings() []model.TemplateListing
}

func handleListTemplates(catalog TemplateCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		listings := catalog.Listings()
		if listings == nil {
			listings = []model.TemplateListing{}
		}
		WriteJSON(w, http.StatusOK, listings)
	}
}

func handleGetTemplate(catalog TemplateCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "templateId")
		t, ok := catalog.Get(id)
		if !ok {
			WriteError(w, model.NewTemplateNotFoundError(id))
			return
		}
		WriteJSON(w, http.StatusOK, t)
	}
}

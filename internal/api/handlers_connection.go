package api

import (
	"errors"
	"net/http"

	"github.com/sydlexius/media-reaper/internal/registry"
)

func (r *Router) handleListConnections(w http.ResponseWriter, req *http.Request) {
	views, err := r.registry.List(req.Context())
	if err != nil {
		r.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleGetConnection(w http.ResponseWriter, req *http.Request) {
	v, err := r.registry.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (r *Router) handleCreateConnection(w http.ResponseWriter, req *http.Request) {
	var in registry.CreateInput
	if err := decodeJSON(w, req, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	v, err := r.registry.Create(req.Context(), in)
	if err != nil {
		r.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (r *Router) handleUpdateConnection(w http.ResponseWriter, req *http.Request) {
	var in registry.UpdateInput
	if err := decodeJSON(w, req, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Forms echo an empty key field when the operator leaves it untouched.
	if in.APIKey != nil && *in.APIKey == "" {
		in.APIKey = nil
	}

	v, err := r.registry.Update(req.Context(), req.PathValue("id"), in)
	if err != nil {
		r.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (r *Router) handleDeleteConnection(w http.ResponseWriter, req *http.Request) {
	if err := r.registry.Delete(req.Context(), req.PathValue("id")); err != nil {
		r.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleTestSaved(w http.ResponseWriter, req *http.Request) {
	res, err := r.registry.TestSaved(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleTestUnsaved(w http.ResponseWriter, req *http.Request) {
	var in registry.TestInput
	if err := decodeJSON(w, req, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := r.registry.TestUnsaved(req.Context(), in)
	if err != nil {
		r.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeRegistryError maps a registry error kind to an HTTP status. The
// message of a registry.Error is already safe to expose.
func (r *Router) writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch registry.KindOf(err) {
	case registry.KindValidation, registry.KindUnsupportedType:
		status = http.StatusBadRequest
	case registry.KindNotFound:
		status = http.StatusNotFound
	case registry.KindCancelled:
		status = http.StatusServiceUnavailable
	}

	msg := "internal error"
	var re *registry.Error
	if errors.As(err, &re) {
		msg = re.Message
	}
	writeError(w, status, msg)
}

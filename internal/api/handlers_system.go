package api

import "net/http"

func (r *Router) handleDatabaseStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.maintenance.Status(req.Context())
	if err != nil {
		r.logger.Error("reading database status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *Router) handleDatabaseOptimize(w http.ResponseWriter, req *http.Request) {
	if err := r.maintenance.Optimize(req.Context()); err != nil {
		r.logger.Error("optimizing database", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.handleDatabaseStatus(w, req)
}

func (r *Router) handleListBackups(w http.ResponseWriter, req *http.Request) {
	backups, err := r.backups.List()
	if err != nil {
		r.logger.Error("listing backups", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

func (r *Router) handleCreateBackup(w http.ResponseWriter, req *http.Request) {
	info, err := r.backups.Backup(req.Context())
	if err != nil {
		r.logger.Error("creating backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

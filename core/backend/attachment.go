package backend

import (
	"database/sql"
	"io"
	"net/http"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/access"
	"github.com/notorm-tech/un0/core/backend/docstore"
	"github.com/notorm-tech/un0/core/logger"
)

// handleAttachmentRoutes adds the document routes of a resource
// configured with_attachment. The metadata row stays in the database,
// the document itself lives in the docstore.
func (b *Backend) handleAttachmentRoutes(r *resource, item string) {
	rlog := logger.Default()
	route := item + "/document"
	rlog.Infoln("  handle routes:", route, "GET,PUT,DELETE")

	b.router.HandleFunc(route, func(w http.ResponseWriter, req *http.Request) {
		b.downloadWithAuth(w, req, r)
	}).Methods(http.MethodGet)

	b.router.HandleFunc(route, func(w http.ResponseWriter, req *http.Request) {
		b.uploadWithAuth(w, req, r)
	}).Methods(http.MethodPut)

	b.router.HandleFunc(route, func(w http.ResponseWriter, req *http.Request) {
		b.deleteDocumentWithAuth(w, req, r)
	}).Methods(http.MethodDelete)
}

// documentKey is the docstore key of a resource row's document
func documentKey(r *resource, id string) string {
	return r.Resource + "/" + id
}

// requireRow checks under the caller's authorization that the row
// exists and is visible. Documents inherit the row's row-level
// security that way.
func (b *Backend) requireRow(w http.ResponseWriter, req *http.Request, r *resource, operation core.Operation) (string, bool) {
	id, ok := itemID(req, r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return "", false
	}

	auth := access.AuthorizationFromContext(req.Context())
	tx, err := b.db.RLSTx(req.Context(), auth.DatabaseRole(operation), auth.SessionVars())
	if err != nil {
		b.internalError(w, req, err)
		return "", false
	}
	defer tx.Rollback()

	var found string
	err = tx.QueryRowContext(req.Context(),
		"SELECT id FROM "+b.db.Schema+"."+r.Resource+" WHERE id = $1 AND is_deleted = false;",
		id).Scan(&found)
	if err == sql.ErrNoRows {
		http.Error(w, "no such "+r.Resource, http.StatusNotFound)
		return "", false
	}
	if err != nil {
		b.internalError(w, req, err)
		return "", false
	}
	tx.Commit()
	return id, true
}

func (b *Backend) downloadWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	id, ok := b.requireRow(w, req, r, core.OperationSelect)
	if !ok {
		return
	}

	body, contentType, err := b.docStore.Get(req.Context(), documentKey(r, id))
	if err != nil {
		if err == docstore.ErrNoDocument {
			http.Error(w, "no document", http.StatusNotFound)
			return
		}
		b.internalError(w, req, err)
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	io.Copy(w, body)
}

func (b *Backend) uploadWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	id, ok := b.requireRow(w, req, r, core.OperationUpdate)
	if !ok {
		return
	}
	defer req.Body.Close()

	contentType := req.Header.Get("Content-Type")
	if err := b.docStore.Put(req.Context(), documentKey(r, id), contentType, req.Body); err != nil {
		b.internalError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) deleteDocumentWithAuth(w http.ResponseWriter, req *http.Request, r *resource) {
	id, ok := b.requireRow(w, req, r, core.OperationDelete)
	if !ok {
		return
	}
	if err := b.docStore.Delete(req.Context(), documentKey(r, id)); err != nil {
		b.internalError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package httpadapter exposes the inbox over HTTP.
package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// maxUploadBytes bounds a single uploaded file.
const maxUploadBytes = 64 << 20

type Router struct {
	inbox       ports.InboxService
	files       ports.FileStore
	inboxFolder string
	now         func() time.Time
}

func NewRouter(inbox ports.InboxService, files ports.FileStore, inboxFolder string) *Router {
	return &Router{
		inbox:       inbox,
		files:       files,
		inboxFolder: strings.Trim(inboxFolder, "/"),
		now:         time.Now,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/inbox/files", rt.filesCollection)
	mux.HandleFunc("/v1/inbox/files/", rt.fileAction)
	mux.HandleFunc("/v1/inbox/analytics", rt.analytics)
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) filesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.listFiles(w, r)
	case http.MethodPost:
		rt.uploadFile(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) listFiles(w http.ResponseWriter, _ *http.Request) {
	records := rt.inbox.GetAllFiles()
	writeJSON(w, http.StatusOK, map[string]any{"files": records})
}

func (rt *Router) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	name := sanitizeUploadName(fileHeader.Filename)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file name is required"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload body"})
		return
	}

	path := rt.inboxFolder + "/" + name
	if exists, err := rt.files.Exists(r.Context(), path); err == nil && exists {
		path = rt.inboxFolder + "/" + rt.now().Format("2006-01-02-150405") + "_" + name
	}
	if err := rt.files.Create(r.Context(), path, string(data)); err != nil {
		writeError(w, fmt.Errorf("store upload: %w", err))
		return
	}

	enqueued := rt.inbox.EnqueueFiles(r.Context(), []string{path})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"path":     path,
		"enqueued": enqueued > 0,
	})
}

func (rt *Router) fileAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/inbox/files/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || action != "requeue" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
		return
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file id is required"})
		return
	}

	if err := rt.inbox.Requeue(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "requeued"})
}

func (rt *Router) analytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.inbox.GetAnalytics())
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// sanitizeUploadName keeps only the final path element and strips
// characters that would break vault paths.
func sanitizeUploadName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

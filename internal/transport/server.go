package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/canopyfs/canopy/internal/canopyerr"
	"github.com/canopyfs/canopy/internal/logging"
	"github.com/canopyfs/canopy/internal/metrics"
	"github.com/canopyfs/canopy/internal/mutate"
	"github.com/canopyfs/canopy/internal/query"
	"github.com/canopyfs/canopy/internal/treeindex"
)

// ShareLinkNotifier is the subset of sharelink.Store's contract the
// transport layer needs: spec §4.8's "callers are responsible for
// rewriting share-link targets when a move renames them."
type ShareLinkNotifier interface {
	OnMoveCompleted(ctx context.Context, oldPath, newPath string)
}

// Server exposes the mutation engine and query surface of spec §4.5/§4.7
// over HTTP, and streams update-bus notifications via SSE.
type Server struct {
	engine      *mutate.Engine
	store       *treeindex.Store
	broadcaster *Broadcaster
	readOnly    bool
	shareLinks  ShareLinkNotifier
}

// New constructs a Server. broadcaster and shareLinks may be nil if SSE
// and share-link rewriting aren't wired.
func New(engine *mutate.Engine, store *treeindex.Store, broadcaster *Broadcaster, shareLinks ShareLinkNotifier, readOnly bool) *Server {
	return &Server{engine: engine, store: store, broadcaster: broadcaster, shareLinks: shareLinks, readOnly: readOnly}
}

// Handler returns the HTTP handler for the server, not yet wrapped with
// auth or metrics middleware (the caller composes those, per spec's
// framing of the transport layer as an external collaborator).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/ls", s.handleLs)
	mux.HandleFunc("GET /api/v1/ls-filter", s.handleLsFilter)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)

	mux.HandleFunc("POST /api/v1/mk", s.handleMk)
	mux.HandleFunc("POST /api/v1/mkdir", s.handleMkdir)
	mux.HandleFunc("POST /api/v1/del", s.handleDel)
	mux.HandleFunc("POST /api/v1/save", s.handleSave)
	mux.HandleFunc("POST /api/v1/move", s.handleMove)
	mux.HandleFunc("POST /api/v1/cp", s.handleCp)
	mux.HandleFunc("POST /api/v1/cpdir", s.handleCpdir)
	mux.HandleFunc("POST /api/v1/clipboard", s.handleClipboard)

	if s.broadcaster != nil {
		mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleLs(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	writeJSON(w, query.Ls(s.store, p))
}

func (s *Server) handleLsFilter(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	pattern, err := regexp.Compile(r.URL.Query().Get("pattern"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid pattern")
		return
	}
	writeJSON(w, query.LsFilter(s.store, p, pattern))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "/"
	}
	result := query.Search(s.store, q, scope)
	if result == nil {
		result = map[string]string{}
	}
	writeJSON(w, result)
}

type pathRequest struct {
	Path string `json:"path"`
}

type renameRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type clipboardRequest struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	Kind string `json:"kind"` // "cut" or "copy"
}

func (s *Server) handleMk(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runOp(w, "mk", func() error { return s.engine.Mk(req.Path) })
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runOp(w, "mkdir", func() error { return s.engine.Mkdir(req.Path) })
}

func (s *Server) handleDel(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runOp(w, "del", func() error { return s.engine.Del(req.Path) })
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	p := r.URL.Query().Get("path")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	s.runOp(w, "save", func() error { return s.engine.Save(p, data) })
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runOp(w, "move", func() error {
		if err := s.engine.Move(req.Src, req.Dst); err != nil {
			return err
		}
		if s.shareLinks != nil {
			s.shareLinks.OnMoveCompleted(r.Context(), req.Src, req.Dst)
		}
		return nil
	})
}

func (s *Server) handleCp(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runOp(w, "cp", func() error { return s.engine.Cp(req.Src, req.Dst) })
}

func (s *Server) handleCpdir(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.runOp(w, "cpdir", func() error { return s.engine.Cpdir(req.Src, req.Dst) })
}

func (s *Server) handleClipboard(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	var req clipboardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := mutate.Copy
	if req.Kind == "cut" {
		kind = mutate.Cut
	}
	s.runOp(w, "clipboard", func() error { return s.engine.Clipboard(req.Src, req.Dst, kind) })
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := marshalEvent(event)
			if err != nil {
				logging.Warn("transport: failed to marshal event", logging.Err(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) rejectIfReadOnly(w http.ResponseWriter) bool {
	if !s.readOnly {
		return false
	}
	sendError(w, http.StatusForbidden, "server is read-only")
	return true
}

func (s *Server) runOp(w http.ResponseWriter, op string, fn func() error) {
	start := time.Now()
	err := fn()
	metrics.RecordMutation(op, time.Since(start), err)
	if err != nil {
		writeOpError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeOpError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	var ce *canopyerr.Error
	if asCanopyErr(err, &ce) {
		switch ce.Kind {
		case canopyerr.NotFound:
			status = http.StatusNotFound
		case canopyerr.Exists:
			status = http.StatusConflict
		case canopyerr.NotEmpty:
			status = http.StatusConflict
		case canopyerr.Permission:
			status = http.StatusForbidden
		case canopyerr.Invalid:
			status = http.StatusBadRequest
		case canopyerr.ReadOnly:
			status = http.StatusForbidden
		}
	}
	logging.Warn("transport: operation failed", logging.String("op", op), logging.Err(err))
	sendError(w, status, err.Error())
}

func asCanopyErr(err error, target **canopyerr.Error) bool {
	ce, ok := err.(*canopyerr.Error)
	if !ok {
		return false
	}
	*target = ce
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Package server exposes workflows, sessions and executions over a local HTTP
// control API, with session closures pushed over a websocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/execution"
	"github.com/entrhq/pageflow/pkg/logging"
	"github.com/entrhq/pageflow/pkg/store"
	"github.com/entrhq/pageflow/pkg/workflow"
)

const maxBodyBytes = 1 << 20

// Sessions is the session surface the server drives. *browser.Registry satisfies it.
type Sessions interface {
	Create(ctx context.Context, url string) (string, error)
	Get(id string) (*browser.Session, bool)
	List() []*browser.Session
	Focus(id string) error
	Remove(id string) error
}

// Options configures a Server.
type Options struct {
	Store    *store.Store
	Sessions Sessions
	Hub      *Hub
	Logger   logging.Sink
	// ExecutionLimit caps concurrent sessions per execution; 0 means no cap.
	ExecutionLimit int
}

// Server is the HTTP control API.
type Server struct {
	store       *store.Store
	sessions    Sessions
	hub         *Hub
	broadcaster *execution.Broadcaster
	log         logging.Sink
}

// New creates a server. A nil hub gets a fresh one.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	return &Server{
		store:       opts.Store,
		sessions:    opts.Sessions,
		hub:         opts.Hub,
		broadcaster: execution.NewBroadcaster(opts.Sessions, opts.ExecutionLimit, opts.Logger),
		log:         opts.Logger,
	}
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws/events", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleSaveWorkflow)
			r.Get("/{id}", s.handleGetWorkflow)
			r.Put("/{id}", s.handleSaveWorkflow)
			r.Delete("/{id}", s.handleDeleteWorkflow)
		})
		r.Route("/page-workflows", func(r chi.Router) {
			r.Get("/", s.handleListPageWorkflows)
			r.Post("/", s.handleSavePageWorkflow)
			r.Get("/{id}", s.handleGetPageWorkflow)
			r.Put("/{id}", s.handleSavePageWorkflow)
			r.Delete("/{id}", s.handleDeletePageWorkflow)
			r.Get("/{id}/probe", s.handleProbe)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Post("/{id}/focus", s.handleFocusSession)
			r.Delete("/{id}", s.handleRemoveSession)
		})
		r.Post("/executions", s.handleExecute)
	})
	return r
}

// ForwardStoreChanges publishes store changes to the hub until ctx is done.
func (s *Server) ForwardStoreChanges(ctx context.Context) error {
	changes, err := s.store.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for c := range changes {
			typ := EventWorkflowChanged
			if c.Kind == store.KindPageWorkflow {
				typ = EventPageWorkflowChanged
			}
			s.hub.Broadcast(Event{
				Type:    typ,
				Payload: map[string]any{"id": c.ID, "removed": c.Removed},
			})
		}
	}()
	return nil
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infof("control API listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				respondError(w, http.StatusInternalServerError, errors.New("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Warnf("websocket accept failed: %v", err)
		return
	}
	conn.SetReadLimit(4096)

	var filter func(Event) bool
	if sessionID != "" {
		filter = func(e Event) bool { return e.SessionID == "" || e.SessionID == sessionID }
	}
	c := s.hub.register(conn, filter)
	ctx, cancel := context.WithCancel(r.Context())

	go func() {
		defer cancel()
		c.readLoop(ctx)
	}()
	go func() {
		if err := c.writeLoop(ctx); err != nil && ctx.Err() == nil {
			s.log.Debugf("websocket write: %v", err)
		}
		cancel()
	}()

	<-ctx.Done()
	s.hub.removeClient(c)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListWorkflows(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if status, err := decodeJSONBody(w, r, &wf); err != nil {
		respondError(w, status, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		wf.ID = id
	}
	if err := s.store.SaveWorkflow(r.Context(), &wf); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPageWorkflows(w http.ResponseWriter, r *http.Request) {
	var (
		list []*workflow.PageWorkflow
		err  error
	)
	if wfID := r.URL.Query().Get("workflowId"); wfID != "" {
		list, err = s.store.ListPageWorkflowsFor(r.Context(), wfID)
	} else {
		list, err = s.store.ListPageWorkflows(r.Context())
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetPageWorkflow(w http.ResponseWriter, r *http.Request) {
	pw, err := s.store.GetPageWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pw)
}

func (s *Server) handleSavePageWorkflow(w http.ResponseWriter, r *http.Request) {
	var pw workflow.PageWorkflow
	if status, err := decodeJSONBody(w, r, &pw); err != nil {
		respondError(w, status, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		pw.ID = id
	}
	if err := s.store.SavePageWorkflow(r.Context(), &pw); err != nil {
		// a missing bound workflow is a bad request, not a missing resource
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pw)
}

func (s *Server) handleDeletePageWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePageWorkflow(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	pw, err := s.store.GetPageWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("%w: %s", browser.ErrSessionNotFound, sessionID))
		return
	}
	matches, err := execution.Probe(r.Context(), sess.View, pw)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, matches)
}

type sessionView struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Current   string    `json:"currentUrl"`
	Partition string    `json:"partition"`
	CreatedAt time.Time `json:"createdAt"`
}

func toSessionView(s *browser.Session) sessionView {
	return sessionView{
		ID:        s.ID,
		URL:       s.URL,
		Current:   s.View.URL(),
		Partition: s.Partition,
		CreatedAt: s.CreatedAt,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	out := []sessionView{}
	for _, sess := range s.sessions.List() {
		out = append(out, toSessionView(sess))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if status, err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	id, err := s.sessions.Create(r.Context(), req.URL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		// closed by the user before we could answer
		respondJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	respondJSON(w, http.StatusCreated, toSessionView(sess))
}

func (s *Server) handleFocusSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Focus(chi.URLParam(r, "id")); err != nil {
		respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id")); err != nil {
		respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	SessionIDs     []string          `json:"sessionIds"`
	PageWorkflowID string            `json:"pageWorkflowId"`
	Values         map[string]string `json:"values"`
}

type outcomeView struct {
	SessionID string            `json:"sessionId"`
	Report    *execution.Report `json:"report,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if status, err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}
	if len(req.SessionIDs) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("sessionIds is required"))
		return
	}
	pw, err := s.store.GetPageWorkflow(r.Context(), req.PageWorkflowID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	outcomes, err := s.broadcaster.Execute(r.Context(), execution.Request{
		SessionIDs:   req.SessionIDs,
		PageWorkflow: pw,
		Values:       req.Values,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	views := make([]outcomeView, len(outcomes))
	for i, o := range outcomes {
		views[i] = outcomeView{SessionID: o.SessionID, Report: o.Report}
		if o.Err != nil {
			views[i].Error = o.Err.Error()
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":       outcomes.Err() == nil,
		"outcomes": views,
	})
}

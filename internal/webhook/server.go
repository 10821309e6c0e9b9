// Package webhook is the HTTP ingress for board change events.
//
// The listener never blocks on chat work: it resolves the event, composes the
// notification, hands it to the bridge, and answers 200. The upstream board
// retries aggressively on non-2xx, so anything short of an unparsable body is
// acknowledged.
package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"editrelay/internal/bridge"
	"editrelay/internal/storage"
	"editrelay/internal/trello"
	logx "editrelay/pkg/logx"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// AttachmentLister is the board capability used when a card reaches the
// complete list.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, cardID string) ([]trello.Attachment, error)
}

// Submitter hands tasks across the runtime boundary. Submit must not block.
type Submitter interface {
	Submit(t bridge.Task)
}

type Config struct {
	Addr string
	// Path is the webhook callback route, e.g. "/trello".
	Path string
	// CompleteListID marks the stage that triggers the final-links fetch.
	CompleteListID string
}

type Server struct {
	cfg    Config
	log    logx.Logger
	store  storage.Store
	board  AttachmentLister
	bridge Submitter

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg Config, store storage.Store, board AttachmentLister, br Submitter, log logx.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/trello"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, store: store, board: board, bridge: br}
}

// Handler returns the routed HTTP surface. Split out so tests can drive it
// through httptest without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body

	r.Get("/", s.handleLiveness)
	// The board verifies webhook registration with a HEAD request.
	r.Head(s.cfg.Path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post(s.cfg.Path, s.handleEvent)
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = srv
	s.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("webhook server error", logx.String("addr", ln.Addr().String()), logx.Err(err))
		}
	}()
	s.log.Info("webhook listener up", logx.String("addr", ln.Addr().String()), logx.String("path", s.cfg.Path))
	return nil
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("webhook shutdown error", logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, `{"ok": true}`)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok, err := decodeMove(r.Body)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if ok {
		s.processMove(r.Context(), ev)
	}
	writeJSON(w, http.StatusOK, `{"received": true}`)
}

// processMove resolves the event and enqueues the notification. Every failure
// past this point is operator-visible only; the board still gets its 200.
func (s *Server) processMove(ctx context.Context, ev moveEvent) {
	rec, found, err := s.store.GetRequest(ctx, ev.CardID)
	if err != nil {
		s.log.Error("store lookup failed", logx.String("card_id", ev.CardID), logx.Err(err))
		return
	}
	if !found {
		// Card wasn't created through this system (or the store was reset).
		s.log.Debug("event for unknown card ignored", logx.String("card_id", ev.CardID))
		return
	}
	if rec.ChatID == 0 {
		s.log.Debug("no notification target for card", logx.String("card_id", ev.CardID))
		return
	}

	var links []string
	if ev.After.ID == s.cfg.CompleteListID {
		atts, err := s.board.ListAttachments(ctx, ev.CardID)
		if err != nil {
			s.log.Warn("attachment fetch failed", logx.String("card_id", ev.CardID), logx.Err(err))
		} else {
			for _, a := range atts {
				if a.URL != "" {
					links = append(links, a.URL)
				}
			}
		}
	}

	title := rec.Title
	if title == "" {
		title = ev.CardName
	}
	s.bridge.Submit(bridge.Task{
		ChatID: rec.ChatID,
		UserID: rec.UserID,
		Text:   composeMove(title, ev.Before.Name, ev.After.Name, links),
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

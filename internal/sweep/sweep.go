// Package sweep periodically moves stale cards out of the requests list into
// the timed-out stage and tells the requester, best-effort.
package sweep

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"editrelay/internal/bridge"
	"editrelay/internal/storage"
	"editrelay/internal/trello"
	logx "editrelay/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Board is the subset of the board client the sweeper needs.
type Board interface {
	ListCards(ctx context.Context, listID string) ([]trello.Card, error)
	MoveCard(ctx context.Context, cardID, listID string) error
}

// Lookup resolves a card back to its requester.
type Lookup interface {
	GetRequest(ctx context.Context, cardID string) (storage.RequestRecord, bool, error)
}

// Submitter hands notifications across the runtime boundary.
type Submitter interface {
	Submit(t bridge.Task)
}

type Config struct {
	// Schedule is a cron spec; defaults to daily.
	Schedule string
	// MaxAge is how long a card may sit in the requests list.
	MaxAge time.Duration

	RequestsListID string
	TimedOutListID string
}

type Sweeper struct {
	cfg    Config
	board  Board
	store  Lookup
	bridge Submitter
	log    logx.Logger

	cron *cron.Cron
}

func New(cfg Config, board Board, store Lookup, br Submitter, log logx.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 14 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{cfg: cfg, board: board, store: store, bridge: br, log: log}
}

// Start schedules the sweep. Runs happen on the cron goroutine and are
// independent of the HTTP and chat contexts.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		s.runOnce(runCtx, time.Now())
	})
	if err != nil {
		return fmt.Errorf("sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("sweep scheduled", logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Sweeper) runOnce(ctx context.Context, now time.Time) {
	cards, err := s.board.ListCards(ctx, s.cfg.RequestsListID)
	if err != nil {
		s.log.Warn("sweep list fetch failed", logx.Err(err))
		return
	}

	cutoff := now.Add(-s.cfg.MaxAge)
	moved := 0
	for _, card := range cards {
		createdAt, ok := cardCreatedAt(card.ID)
		if !ok || createdAt.After(cutoff) {
			continue
		}
		if err := s.board.MoveCard(ctx, card.ID, s.cfg.TimedOutListID); err != nil {
			s.log.Warn("sweep move failed", logx.String("card_id", card.ID), logx.Err(err))
			continue
		}
		moved++
		s.notifyTimeout(ctx, card)
	}
	if moved > 0 {
		s.log.Info("stale requests timed out", logx.Int("count", moved))
	}
}

func (s *Sweeper) notifyTimeout(ctx context.Context, card trello.Card) {
	rec, found, err := s.store.GetRequest(ctx, card.ID)
	if err != nil {
		s.log.Warn("sweep lookup failed", logx.String("card_id", card.ID), logx.Err(err))
		return
	}
	if !found || rec.ChatID == 0 {
		return
	}
	title := rec.Title
	if title == "" {
		title = card.Name
	}
	s.bridge.Submit(bridge.Task{
		ChatID: rec.ChatID,
		UserID: rec.UserID,
		Text:   fmt.Sprintf("⌛ %s sat in Requests too long and was moved to Timed-Out. Re-submit if you still need it.", title),
	})
}

// cardCreatedAt derives the creation time from a Trello card ID: the first
// 8 hex characters are a unix timestamp in seconds.
func cardCreatedAt(id string) (time.Time, bool) {
	if len(id) < 8 {
		return time.Time{}, false
	}
	secs, err := strconv.ParseUint(id[:8], 16, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0), true
}

// Package telegram owns the long-lived bot session and the intake command.
//
// The session's send capabilities must only be used from the bridge consumer
// goroutine; HTTP handlers go through the bridge, never through Session
// directly.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "editrelay/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// ErrChannelResolution marks a notification target that no longer exists or
// is inaccessible to the bot.
var ErrChannelResolution = errors.New("channel resolution failed")

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Session struct {
	bot *tele.Bot
	log logx.Logger

	mu     sync.Mutex
	chats  map[int64]*tele.Chat
	labels map[int64]string

	runMu    sync.Mutex
	running  bool
	stopOnce sync.Once
}

func NewSession(cfg Config, log logx.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{
		bot:    b,
		log:    log,
		chats:  map[int64]*tele.Chat{},
		labels: map[int64]string{},
	}, nil
}

// Bot exposes the underlying bot for handler registration at startup.
func (s *Session) Bot() *tele.Bot { return s.bot }

// Start begins long polling in the background. It returns immediately; the
// HTTP listener must not wait on the connection being up.
func (s *Session) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()
	go func() {
		s.log.Info("polling started")
		// Start blocks until Stop() is called.
		s.bot.Start()
		s.log.Info("polling stopped")
	}()
}

func (s *Session) Stop() {
	s.runMu.Lock()
	wasRunning := s.running
	s.running = false
	s.runMu.Unlock()
	if wasRunning {
		s.shutdown()
	}
}

// shutdown stops the poller at most once. Both context cancellation and Stop
// funnel through here: telebot's Stop blocks forever on its confirm channel
// when called after the poll loop has already exited.
func (s *Session) shutdown() {
	s.stopOnce.Do(s.bot.Stop)
}

// resolveChat returns the chat handle for a notification target, trying the
// local cache before fetching over the network.
func (s *Session) resolveChat(chatID int64) (*tele.Chat, error) {
	s.mu.Lock()
	ch, ok := s.chats[chatID]
	s.mu.Unlock()
	if ok {
		return ch, nil
	}

	ch, err := s.bot.ChatByID(chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: chat %d: %v", ErrChannelResolution, chatID, err)
	}
	s.mu.Lock()
	s.chats[chatID] = ch
	s.mu.Unlock()
	return ch, nil
}

// userLabel returns display text for the mention token, best-effort.
func (s *Session) userLabel(userID int64) string {
	s.mu.Lock()
	label, ok := s.labels[userID]
	s.mu.Unlock()
	if ok {
		return label
	}

	label = "requester"
	if ch, err := s.bot.ChatByID(userID); err == nil {
		switch {
		case ch.FirstName != "":
			label = ch.FirstName
		case ch.Username != "":
			label = "@" + ch.Username
		}
	}
	s.mu.Lock()
	s.labels[userID] = label
	s.mu.Unlock()
	return label
}

// Send posts body into the target chat, mentioning exactly the given user.
//
// The mention is an explicit text_mention entity and the message is sent
// without a parse mode, so nothing inside body can widen the mention scope.
// ctx gates entry only; telebot sends carry no context, so the call itself
// is bounded by the bot's HTTP client timeout.
func (s *Session) Send(ctx context.Context, chatID, userID int64, body string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	ch, err := s.resolveChat(chatID)
	if err != nil {
		return err
	}

	text, entities := buildMention(s.userLabel(userID), userID, body)
	_, err = s.bot.Send(ch, text, &tele.SendOptions{Entities: entities})
	return err
}

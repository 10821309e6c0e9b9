package telegram

import (
	"context"
	"testing"
	"time"

	logx "editrelay/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// idlePoller produces no updates and returns when asked to stop, so session
// lifecycle can be exercised without a network.
type idlePoller struct{}

func (idlePoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) { <-stop }

func newIdleSession(t *testing.T) *Session {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Token: "test", Offline: true, Poller: idlePoller{}})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	return &Session{
		bot:    b,
		log:    logx.Nop(),
		chats:  map[int64]*tele.Chat{},
		labels: map[int64]string{},
	}
}

func TestStopAfterContextCancelReturns(t *testing.T) {
	s := newIdleSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	// Context cancellation already stops the poller; give it time to exit.
	cancel()
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked after the poll loop had already exited")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newIdleSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("repeated Stop blocked")
	}
}

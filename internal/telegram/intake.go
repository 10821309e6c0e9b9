package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"editrelay/internal/storage"
	"editrelay/internal/trello"
	logx "editrelay/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// Board is the subset of the board client the intake path needs.
type Board interface {
	CreateCard(ctx context.Context, listID, name, desc string) (trello.Card, error)
	AttachURL(ctx context.Context, cardID, url, name string) (trello.Attachment, error)
}

const (
	requestCommand = "/request"
	requestUsage   = "Usage: /request Episode title | link (optional) | notes (optional)\n" +
		"You can also send a file with a /request caption."

	intakeTimeout = 30 * time.Second
)

// Request carries one intake submission, already detached from the transport.
type Request struct {
	UserID   int64
	Username string
	ChatID   int64

	Title    string
	Link     string
	Notes    string
	FileURL  string
	FileName string
}

// Intake handles the /request command: it creates the board card, attaches
// supplied links, records the card->requester mapping, and confirms.
type Intake struct {
	session      *Session
	board        Board
	store        storage.Store
	requestsList string
	log          logx.Logger
}

func NewIntake(session *Session, board Board, store storage.Store, requestsList string, log logx.Logger) *Intake {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Intake{
		session:      session,
		board:        board,
		store:        store,
		requestsList: requestsList,
		log:          log,
	}
}

// Register installs the command handlers on the session's bot. Must be called
// before Session.Start.
func (i *Intake) Register() {
	b := i.session.Bot()
	b.Handle(requestCommand, i.onCommand)
	b.Handle(tele.OnDocument, i.onDocument)
}

func (i *Intake) onCommand(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}

	req, err := parseRequest(m.Payload)
	if err != nil {
		return c.Reply(requestUsage)
	}
	req.UserID = m.Sender.ID
	req.Username = m.Sender.Username
	req.ChatID = m.Chat.ID

	// Acknowledge first; the board round-trips happen after.
	if err := c.Reply("⏳ Creating your edit request…"); err != nil {
		i.log.Warn("intake ack failed", logx.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), intakeTimeout)
	defer cancel()
	i.handle(ctx, req, c.Reply)
	return nil
}

// onDocument accepts a file upload whose caption carries the /request command.
// Telegram hosts the file; its URL is attached to the card like a link.
func (i *Intake) onDocument(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil || m.Document == nil {
		return nil
	}
	caption := strings.TrimSpace(m.Caption)
	if !strings.HasPrefix(caption, requestCommand) {
		return nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(caption, requestCommand))
	req, err := parseRequest(payload)
	if err != nil {
		return c.Reply(requestUsage)
	}
	req.UserID = m.Sender.ID
	req.Username = m.Sender.Username
	req.ChatID = m.Chat.ID

	if url, ferr := i.fileURL(m.Document); ferr != nil {
		i.log.Warn("file url lookup failed", logx.Err(ferr))
	} else {
		req.FileURL = url
		req.FileName = m.Document.FileName
	}

	if err := c.Reply("⏳ Creating your edit request…"); err != nil {
		i.log.Warn("intake ack failed", logx.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), intakeTimeout)
	defer cancel()
	i.handle(ctx, req, c.Reply)
	return nil
}

func (i *Intake) fileURL(doc *tele.Document) (string, error) {
	b := i.session.Bot()
	f, err := b.FileByID(doc.FileID)
	if err != nil {
		return "", err
	}
	return b.URL + "/file/bot" + b.Token + "/" + f.FilePath, nil
}

// handle runs the intake steps. reply delivers user-visible outcomes back into
// the originating chat; operator detail goes to the log.
func (i *Intake) handle(ctx context.Context, req Request, reply func(what interface{}, opts ...interface{}) error) {
	sayf := func(format string, args ...any) {
		if err := reply(fmt.Sprintf(format, args...)); err != nil {
			i.log.Warn("intake reply failed", logx.Err(err))
		}
	}

	card, err := i.board.CreateCard(ctx, i.requestsList, req.Title, buildDescription(req))
	if err != nil {
		// Fatal: no card means nothing to track. The store stays untouched.
		i.log.Error("card creation failed", logx.String("title", req.Title), logx.Err(err))
		sayf("❌ Could not create the request for %q. Please try again later.", req.Title)
		return
	}

	// Attachments are independent best-effort steps; a failure here does not
	// roll back the card.
	if req.Link != "" {
		if _, err := i.board.AttachURL(ctx, card.ID, req.Link, "Source files"); err != nil {
			i.log.Warn("link attach failed", logx.String("card_id", card.ID), logx.Err(err))
		}
	}
	if req.FileURL != "" {
		name := req.FileName
		if name == "" {
			name = "Upload"
		}
		if _, err := i.board.AttachURL(ctx, card.ID, req.FileURL, name); err != nil {
			i.log.Warn("file attach failed", logx.String("card_id", card.ID), logx.Err(err))
		}
	}

	rec := storage.RequestRecord{
		CardID: card.ID,
		UserID: req.UserID,
		ChatID: req.ChatID,
		Title:  req.Title,
	}
	if err := i.store.PutRequest(ctx, rec); err != nil {
		i.log.Error("mapping persist failed", logx.String("card_id", card.ID), logx.Err(err))
		sayf("⚠️ Request %q was created on the board, but I couldn't save the notification mapping. You won't be tagged on updates.", req.Title)
		return
	}

	i.log.Info("request created",
		logx.String("card_id", card.ID),
		logx.String("title", req.Title),
		logx.Int64("user_id", req.UserID),
	)
	sayf("✅ Request created for %q.\nI'll tag you as the card moves (Requests → In-Progress → Complete).", req.Title)
}

// parseRequest splits "title | link | notes". Only the title is required.
func parseRequest(payload string) (Request, error) {
	parts := strings.SplitN(payload, "|", 3)
	req := Request{Title: strings.TrimSpace(parts[0])}
	if req.Title == "" {
		return Request{}, fmt.Errorf("title is required")
	}
	if len(parts) > 1 {
		req.Link = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		req.Notes = strings.TrimSpace(parts[2])
	}
	return req, nil
}

func buildDescription(req Request) string {
	var b strings.Builder
	who := req.Username
	if who != "" {
		who = "@" + who
	} else {
		who = "unknown"
	}
	fmt.Fprintf(&b, "**Requested by:** %s (ID: %d)\n", who, req.UserID)
	b.WriteString("**Origin:** Telegram\n")
	if req.Notes != "" {
		fmt.Fprintf(&b, "\n**Notes:** %s", req.Notes)
	}
	return b.String()
}

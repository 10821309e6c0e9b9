// Package trello is a thin client for the handful of Trello REST calls the
// relay consumes. It performs no retries; callers decide whether a failure is
// fatal to their operation.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "editrelay/pkg/logx"
)

const defaultBaseURL = "https://api.trello.com/1"

// maxErrBody caps how much of an error response body is retained.
const maxErrBody = 2048

// APIError is returned for any non-2xx response from the board API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trello: http %d: %s", e.Status, e.Body)
}

type Config struct {
	Key   string
	Token string
	// BaseURL overrides the API endpoint (tests). Empty means production.
	BaseURL string
}

type Client struct {
	base  string
	key   string
	token string
	http  *http.Client
	log   logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:  base,
		key:   cfg.Key,
		token: cfg.Token,
		http:  &http.Client{Timeout: 15 * time.Second},
		log:   log,
	}
}

type Card struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	IDList string `json:"idList"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CreateCard creates a card at the bottom of the given list.
func (c *Client) CreateCard(ctx context.Context, listID, name, desc string) (Card, error) {
	var card Card
	err := c.do(ctx, http.MethodPost, "/cards", url.Values{
		"idList": {listID},
		"name":   {name},
		"desc":   {desc},
	}, &card)
	return card, err
}

// AttachURL attaches an externally hosted link to a card.
func (c *Client) AttachURL(ctx context.Context, cardID, attachURL, name string) (Attachment, error) {
	var att Attachment
	err := c.do(ctx, http.MethodPost, "/cards/"+cardID+"/attachments", url.Values{
		"url":  {attachURL},
		"name": {name},
	}, &att)
	return att, err
}

// ListAttachments returns all attachments on a card.
func (c *Client) ListAttachments(ctx context.Context, cardID string) ([]Attachment, error) {
	var atts []Attachment
	err := c.do(ctx, http.MethodGet, "/cards/"+cardID+"/attachments", nil, &atts)
	return atts, err
}

// ListCards returns all open cards in a list.
func (c *Client) ListCards(ctx context.Context, listID string) ([]Card, error) {
	var cards []Card
	err := c.do(ctx, http.MethodGet, "/lists/"+listID+"/cards", nil, &cards)
	return cards, err
}

// MoveCard moves a card to another list.
func (c *Client) MoveCard(ctx context.Context, cardID, listID string) error {
	return c.do(ctx, http.MethodPut, "/cards/"+cardID, url.Values{
		"idList": {listID},
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.key)
	params.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, method, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("trello: decode %s %s: %w", method, path, err)
	}
	return nil
}

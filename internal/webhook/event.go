package webhook

import (
	"encoding/json"
	"io"
)

// listRef names a board list in a webhook payload.
type listRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// payload is the board's webhook body, decoded once at the boundary. Unknown
// fields and unrelated action types are tolerated; only the shape below is
// consumed.
type payload struct {
	Action struct {
		Type string `json:"type"`
		Data struct {
			Card struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"card"`
			ListBefore *listRef `json:"listBefore"`
			ListAfter  *listRef `json:"listAfter"`
		} `json:"data"`
	} `json:"action"`
}

// moveEvent is a card transition between two lists.
type moveEvent struct {
	CardID   string
	CardName string
	Before   listRef
	After    listRef
}

// decodeMove parses the body and extracts a list-transition event.
// ok=false with a nil error means a well-formed payload of a kind this system
// ignores; an error means the body is not parsable at all.
func decodeMove(r io.Reader) (moveEvent, bool, error) {
	var p payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return moveEvent{}, false, err
	}
	if p.Action.Type != "updateCard" {
		return moveEvent{}, false, nil
	}
	d := p.Action.Data
	if d.ListBefore == nil || d.ListAfter == nil || d.Card.ID == "" {
		return moveEvent{}, false, nil
	}
	return moveEvent{
		CardID:   d.Card.ID,
		CardName: d.Card.Name,
		Before:   *d.ListBefore,
		After:    *d.ListAfter,
	}, true, nil
}

package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"editrelay/internal/bridge"
	"editrelay/internal/storage"
	"editrelay/internal/trello"
	logx "editrelay/pkg/logx"
)

type memStore struct {
	getErr error
	recs   map[string]storage.RequestRecord
}

func (m *memStore) PutRequest(ctx context.Context, rec storage.RequestRecord) error {
	m.recs[rec.CardID] = rec
	return nil
}

func (m *memStore) GetRequest(ctx context.Context, cardID string) (storage.RequestRecord, bool, error) {
	if m.getErr != nil {
		return storage.RequestRecord{}, false, m.getErr
	}
	rec, ok := m.recs[cardID]
	return rec, ok, nil
}

func (m *memStore) Close() error { return nil }

type fakeLister struct {
	atts []trello.Attachment
	err  error
}

func (f *fakeLister) ListAttachments(ctx context.Context, cardID string) ([]trello.Attachment, error) {
	return f.atts, f.err
}

type captureSubmitter struct {
	mu    sync.Mutex
	tasks []bridge.Task
}

func (c *captureSubmitter) Submit(t bridge.Task) {
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
}

func (c *captureSubmitter) all() []bridge.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bridge.Task(nil), c.tasks...)
}

type fixture struct {
	store  *memStore
	lister *fakeLister
	subs   *captureSubmitter
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  &memStore{recs: map[string]storage.RequestRecord{}},
		lister: &fakeLister{},
		subs:   &captureSubmitter{},
	}
	s := NewServer(Config{Path: "/trello", CompleteListID: "L-complete"}, f.store, f.lister, f.subs, logx.Nop())
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func movePayload(actionType, cardID, cardName, beforeID, beforeName, afterID, afterName string) string {
	return fmt.Sprintf(`{"action":{"type":%q,"data":{
		"card":{"id":%q,"name":%q},
		"listBefore":{"id":%q,"name":%q},
		"listAfter":{"id":%q,"name":%q}}}}`,
		actionType, cardID, cardName, beforeID, beforeName, afterID, afterName)
}

func post(t *testing.T, f *fixture, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/trello", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestLiveness(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if got := string(body); got != `{"ok": true}` {
		t.Fatalf("body = %q", got)
	}
}

func TestHeadHandshake(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodHead, f.srv.URL+"/trello", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMoveForKnownCardProducesOneTask(t *testing.T) {
	f := newFixture(t)
	f.store.recs["c1"] = storage.RequestRecord{CardID: "c1", UserID: 42, ChatID: 7, Title: "Ep 12"}

	resp := post(t, f, movePayload("updateCard", "c1", "Ep 12", "R", "Requests", "P", "In-Progress"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	tasks := f.subs.all()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	task := tasks[0]
	if task.ChatID != 7 || task.UserID != 42 {
		t.Fatalf("task routing = %+v", task)
	}
	if !strings.Contains(task.Text, "Requests") || !strings.Contains(task.Text, "In-Progress") {
		t.Fatalf("task text = %q", task.Text)
	}
	if strings.Contains(task.Text, "Final files") {
		t.Fatalf("unexpected final-links block: %q", task.Text)
	}
}

func TestMoveIntoCompleteListIncludesLinks(t *testing.T) {
	f := newFixture(t)
	f.store.recs["c1"] = storage.RequestRecord{CardID: "c1", UserID: 42, ChatID: 7, Title: "Ep 12"}
	f.lister.atts = []trello.Attachment{{URL: "https://x/1"}, {URL: "https://x/2"}}

	post(t, f, movePayload("updateCard", "c1", "Ep 12", "P", "In-Progress", "L-complete", "Complete"))

	tasks := f.subs.all()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	if !strings.Contains(tasks[0].Text, "https://x/1") || !strings.Contains(tasks[0].Text, "https://x/2") {
		t.Fatalf("links missing: %q", tasks[0].Text)
	}
}

func TestAttachmentFetchFailureStillNotifies(t *testing.T) {
	f := newFixture(t)
	f.store.recs["c1"] = storage.RequestRecord{CardID: "c1", UserID: 42, ChatID: 7, Title: "Ep 12"}
	f.lister.err = &trello.APIError{Status: 500, Body: "down"}

	resp := post(t, f, movePayload("updateCard", "c1", "Ep 12", "P", "In-Progress", "L-complete", "Complete"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	tasks := f.subs.all()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	if strings.Contains(tasks[0].Text, "Final files") {
		t.Fatalf("links block present despite fetch failure: %q", tasks[0].Text)
	}
}

func TestIrrelevantEventsAreAcceptedAndIgnored(t *testing.T) {
	f := newFixture(t)
	f.store.recs["c1"] = storage.RequestRecord{CardID: "c1", UserID: 42, ChatID: 7}

	bodies := []string{
		movePayload("commentCard", "c1", "Ep", "R", "Requests", "P", "In-Progress"),
		`{"action":{"type":"updateCard","data":{"card":{"id":"c1","name":"Ep"}}}}`,
		`{"action":{"type":"updateCard","data":{"card":{"id":"c1"},"listBefore":{"id":"R","name":"Requests"}}}}`,
		`{"action":{"type":"updateCard","data":{"listBefore":{"id":"R","name":"a"},"listAfter":{"id":"P","name":"b"}}}}`,
		`{}`,
	}
	for _, body := range bodies {
		resp := post(t, f, body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("body %q: status = %d", body, resp.StatusCode)
		}
	}
	if tasks := f.subs.all(); len(tasks) != 0 {
		t.Fatalf("irrelevant events produced tasks: %+v", tasks)
	}
}

func TestUnknownCardIsSilentlyIgnored(t *testing.T) {
	f := newFixture(t)

	resp := post(t, f, movePayload("updateCard", "ghost", "Ep", "R", "Requests", "P", "In-Progress"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if tasks := f.subs.all(); len(tasks) != 0 {
		t.Fatalf("unknown card produced tasks: %+v", tasks)
	}
}

func TestStoreFailureStillReturns200(t *testing.T) {
	f := newFixture(t)
	f.store.getErr = errors.New("medium failure")

	resp := post(t, f, movePayload("updateCard", "c1", "Ep", "R", "Requests", "P", "In-Progress"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAbsentTargetDropsSilently(t *testing.T) {
	f := newFixture(t)
	f.store.recs["c1"] = storage.RequestRecord{CardID: "c1", UserID: 42} // no chat id

	post(t, f, movePayload("updateCard", "c1", "Ep", "R", "Requests", "P", "In-Progress"))
	if tasks := f.subs.all(); len(tasks) != 0 {
		t.Fatalf("absent target produced tasks: %+v", tasks)
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f, "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

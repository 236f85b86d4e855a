package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/RichardoC/tabletalk/internal/db"
	"github.com/RichardoC/tabletalk/internal/llm"
	"github.com/RichardoC/tabletalk/internal/models"
	"github.com/RichardoC/tabletalk/internal/session"
	"github.com/RichardoC/tabletalk/internal/table"
	"go.uber.org/zap/zaptest"
)

// recordingResponder counts calls and keeps the last request.
type recordingResponder struct {
	next  llm.Responder
	err   error
	calls int
	last  llm.Request
}

func (r *recordingResponder) Respond(ctx context.Context, req llm.Request) (string, error) {
	r.calls++
	r.last = req
	if r.err != nil {
		return "", r.err
	}
	return r.next.Respond(ctx, req)
}

// client replays the session cookie the server hands out.
type client struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if set := rec.Result().Cookies(); len(set) > 0 {
		c.cookies = set
	}
	return rec
}

func (c *client) get(path string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (c *client) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) upload(name string, data []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		c.t.Fatalf("CreateFormFile err: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *client) messages() []models.Message {
	c.t.Helper()
	rec := c.get("/api/messages")
	if rec.Code != http.StatusOK {
		c.t.Fatalf("GET /api/messages: %d", rec.Code)
	}
	var msgs []models.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		c.t.Fatalf("decode messages: %v", err)
	}
	return msgs
}

func newStore(t *testing.T) *db.Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := db.New(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("db.New err: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newWebsiteClient(t *testing.T) (*client, *recordingResponder) {
	responder := &recordingResponder{next: llm.Stub{}}
	app := NewWebsiteChat(newStore(t), session.NewManager(session.State{WebsiteURL: "https://www.google.com"}, 0), responder, zaptest.NewLogger(t))
	return &client{t: t, handler: NewRouter(app, zaptest.NewLogger(t))}, responder
}

func TestWebsiteChatScenario(t *testing.T) {
	c, responder := newWebsiteClient(t)

	rec := c.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /: %d", rec.Code)
	}
	if len(c.cookies) == 0 {
		t.Fatal("expected a session cookie")
	}
	if !strings.Contains(rec.Body.String(), models.SeedGreeting) {
		t.Fatal("seed message not rendered")
	}

	rec = c.postForm("/chat", url.Values{"message": {"What is X?"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat: %d", rec.Code)
	}

	msgs := c.messages()
	want := []struct {
		role    models.Role
		content string
	}{
		{models.RoleAssistant, models.SeedGreeting},
		{models.RoleUser, "What is X?"},
		{models.RoleAssistant, "Hello"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Fatalf("message %d = %v %q, want %v %q", i, msgs[i].Role, msgs[i].Content, w.role, w.content)
		}
	}
	if responder.last.WebsiteURL != "https://www.google.com" {
		t.Fatalf("website url not passed to responder: %q", responder.last.WebsiteURL)
	}
}

func TestWebsiteChatIgnoresBlankInput(t *testing.T) {
	c, responder := newWebsiteClient(t)

	for _, msg := range []string{"", "   ", "\n\t"} {
		rec := c.postForm("/chat", url.Values{"message": {msg}})
		if rec.Code != http.StatusOK {
			t.Fatalf("POST /chat %q: %d", msg, rec.Code)
		}
	}
	if responder.calls != 0 {
		t.Fatalf("responder called %d times", responder.calls)
	}
	if n := len(c.messages()); n != 1 {
		t.Fatalf("expected seed only, got %d messages", n)
	}
}

func TestWebsiteChatOddLengthInvariant(t *testing.T) {
	c, _ := newWebsiteClient(t)

	for k := 1; k <= 4; k++ {
		c.postForm("/chat", url.Values{"message": {fmt.Sprintf("question %d", k)}})
		msgs := c.messages()
		if len(msgs) != 1+2*k {
			t.Fatalf("after %d cycles: %d messages", k, len(msgs))
		}
		if msgs[len(msgs)-2].Role != models.RoleUser || msgs[len(msgs)-1].Role != models.RoleAssistant {
			t.Fatalf("cycle %d appended out of order", k)
		}
	}
}

func TestWebsiteChatConfig(t *testing.T) {
	c, responder := newWebsiteClient(t)

	if rec := c.postForm("/config", url.Values{"website_url": {"not a url"}}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", rec.Code)
	}

	rec := c.postForm("/config", url.Values{"website_url": {"https://go.dev"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `value="https://go.dev"`) {
		t.Fatalf("config not saved: %d", rec.Code)
	}

	c.postForm("/chat", url.Values{"message": {"hi"}})
	if responder.last.WebsiteURL != "https://go.dev" {
		t.Fatalf("responder saw %q", responder.last.WebsiteURL)
	}
}

func TestWebsiteChatSessionsAreIsolated(t *testing.T) {
	c, _ := newWebsiteClient(t)
	c.postForm("/chat", url.Values{"message": {"mine"}})

	other := &client{t: t, handler: c.handler}
	if n := len(other.messages()); n != 1 {
		t.Fatalf("second session saw %d messages", n)
	}
}

func TestWebsiteChatReset(t *testing.T) {
	c, _ := newWebsiteClient(t)
	c.postForm("/chat", url.Values{"message": {"hi"}})

	if rec := c.postForm("/reset", nil); rec.Code != http.StatusSeeOther {
		t.Fatalf("POST /reset: %d", rec.Code)
	}
	if n := len(c.messages()); n != 1 {
		t.Fatalf("expected a fresh transcript, got %d messages", n)
	}
}

type tableEcho struct{}

func (tableEcho) Respond(_ context.Context, req llm.Request) (string, error) {
	return fmt.Sprintf("%s has %d rows", req.TableName, req.Frame.Table().Len()), nil
}

func newDataClient(t *testing.T) (*client, *recordingResponder) {
	c, responder, _ := newDataApp(t, table.DefaultTTL)
	return c, responder
}

func newDataApp(t *testing.T, cacheTTL time.Duration) (*client, *recordingResponder, *DataChat) {
	responder := &recordingResponder{next: tableEcho{}}
	loader := table.NewCachedLoader(table.NewCache(cacheTTL))
	app := NewDataChat(newStore(t), session.NewManager(session.State{}, 0), loader, responder, 1<<20, zaptest.NewLogger(t))
	return &client{t: t, handler: NewRouter(app, zaptest.NewLogger(t))}, responder, app
}

const peopleCSV = "name,age\nAda,36\nLinus,28\nGrace,45\n"

func TestDataChatMissingCredential(t *testing.T) {
	c, responder := newDataClient(t)
	c.upload("people.csv", []byte(peopleCSV))

	rec := c.postForm("/chat", url.Values{"message": {"What is this data about?"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), noticeMissingKey) {
		t.Fatal("missing-key notice not shown")
	}
	if responder.calls != 0 {
		t.Fatal("responder must not run without a credential")
	}

	msgs := c.messages()
	if len(msgs) != 2 || msgs[1].Role != models.RoleUser || msgs[1].Content != "What is this data about?" {
		t.Fatalf("expected seed + user message, got %+v", msgs)
	}
}

func TestDataChatMissingTable(t *testing.T) {
	c, responder := newDataClient(t)
	c.postForm("/key", url.Values{"api_key": {"sk-test"}})

	rec := c.postForm("/chat", url.Values{"message": {"How many rows?"}})
	if !strings.Contains(rec.Body.String(), noticeMissingTable) {
		t.Fatal("missing-table notice not shown")
	}
	if responder.calls != 0 {
		t.Fatal("responder must not run without a table")
	}
}

func TestDataChatUnsupportedUpload(t *testing.T) {
	c, _ := newDataClient(t)

	rec := c.upload("report.docx", []byte("hello"))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /upload: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Unsupported file format: docx") {
		t.Fatalf("unsupported notice not shown:\n%s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "Loaded:") {
		t.Fatal("no table should be loaded")
	}
}

func TestDataChatAnswersFromTable(t *testing.T) {
	c, responder := newDataClient(t)

	rec := c.upload("people.csv", []byte(peopleCSV))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Loaded people.csv: 3 rows, 2 columns.") {
		t.Fatalf("upload failed: %d\n%s", rec.Code, rec.Body.String())
	}
	rec = c.postForm("/key", url.Values{"api_key": {"sk-test"}})
	if strings.Contains(rec.Body.String(), "sk-test") {
		t.Fatal("credential must never be rendered")
	}

	rec = c.postForm("/chat", url.Values{"message": {"How many rows?"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat: %d", rec.Code)
	}
	if responder.last.Credential != "sk-test" || responder.last.Question != "How many rows?" {
		t.Fatalf("unexpected request: %+v", responder.last)
	}
	if len(responder.last.History) != 1 {
		t.Fatalf("history should hold the seed only, got %d", len(responder.last.History))
	}

	msgs := c.messages()
	if len(msgs) != 3 || msgs[2].Content != "people.csv has 3 rows" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestDataChatNewUploadReplacesTable(t *testing.T) {
	c, responder := newDataClient(t)
	c.postForm("/key", url.Values{"api_key": {"sk-test"}})
	c.upload("people.csv", []byte(peopleCSV))
	c.upload("more.csv", []byte("id\n1\n"))

	c.postForm("/chat", url.Values{"message": {"size?"}})
	if responder.last.TableName != "more.csv" || responder.last.Frame.Table().Len() != 1 {
		t.Fatalf("expected the newest upload, got %s", responder.last.TableName)
	}
}

func TestDataChatResponderFailure(t *testing.T) {
	c, responder := newDataClient(t)
	responder.err = errors.New("upstream timeout")
	c.postForm("/key", url.Values{"api_key": {"sk-test"}})
	c.upload("people.csv", []byte(peopleCSV))

	rec := c.postForm("/chat", url.Values{"message": {"How many rows?"}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), noticeFailure) {
		t.Fatal("failure notice not shown")
	}
	if n := len(c.messages()); n != 2 {
		t.Fatalf("expected seed + user message, got %d", n)
	}
}

func TestDataChatBinaryWorkbookNotice(t *testing.T) {
	c, _ := newDataClient(t)

	rec := c.upload("report.xlsb", []byte{0x50, 0x4b, 0x03, 0x04})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("POST /upload: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "recognised but cannot be read") {
		t.Fatalf("xlsb notice not shown:\n%s", body)
	}
	if strings.Contains(body, "Unsupported file format") {
		t.Fatal("xlsb is a known format")
	}
}

func TestDataChatReparsesExpiredUpload(t *testing.T) {
	c, responder, _ := newDataApp(t, time.Nanosecond)
	c.postForm("/key", url.Values{"api_key": {"sk-test"}})
	if rec := c.upload("people.csv", []byte(peopleCSV)); rec.Code != http.StatusOK {
		t.Fatalf("POST /upload: %d", rec.Code)
	}

	c.postForm("/chat", url.Values{"message": {"first"}})
	first := responder.last.Frame
	rec := c.postForm("/chat", url.Values{"message": {"second"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat: %d", rec.Code)
	}
	second := responder.last.Frame

	if first == nil || second == nil || first == second {
		t.Fatal("expected the upload to be parsed again once its cache entry expired")
	}
	if responder.calls != 2 {
		t.Fatalf("responder called %d times", responder.calls)
	}
	msgs := c.messages()
	if len(msgs) != 5 || msgs[4].Content != "people.csv has 3 rows" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestDataChatExpiredSessionReleasesEverything(t *testing.T) {
	ctx := context.Background()
	c, _, app := newDataApp(t, table.DefaultTTL)
	c.postForm("/key", url.Values{"api_key": {"sk-test"}})
	c.upload("people.csv", []byte(peopleCSV))
	c.postForm("/chat", url.Values{"message": {"How many rows?"}})

	id := c.cookies[0].Value
	st := app.sessions.Get(id)
	if st.Upload == nil {
		t.Fatal("expected an upload before expiry")
	}
	if _, _, hit, _ := app.loader.Load(ctx, id, st.Upload.Name, st.Upload.Data); !hit {
		t.Fatal("expected the upload to be cached before expiry")
	}

	app.sessions.Delete(id)
	app.expire(id, st)

	if _, _, hit, _ := app.loader.Load(ctx, id, st.Upload.Name, st.Upload.Data); hit {
		t.Fatal("expired session's frame must be dropped from the cache")
	}
	msgs, err := app.store.Transcript(ctx, id)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expired transcript must be deleted, got %d messages", len(msgs))
	}
	if app.sessions.Get(id).HasCredential() {
		t.Fatal("credential must not survive expiry")
	}
}

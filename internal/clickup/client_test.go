package clickup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/basket/clickgram/internal/otel"
)

type recorded struct {
	Method      string
	Path        string
	Auth        string
	ContentType string
	Body        []byte
}

// fakeAPI records requests and answers from a route table keyed by
// "METHOD /path".
type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{routes: map[string]func(http.ResponseWriter, *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recorded{
			Method:      r.Method,
			Path:        r.URL.Path,
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		h := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if h == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"err":"Route not found","ECODE":"APP_001"}`))
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) handle(route string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func TestCreateTask(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /list/901/task", 200, `{"id":"abc","name":"Ada Lovelace"}`)
	c := New(Options{BaseURL: srv.URL, Token: "pk_1_TOKEN"})

	task, err := c.CreateTask(context.Background(), "901", TaskRequest{
		Name:         "Ada Lovelace",
		Description:  "chat-id: 100\naccount: ada",
		CustomFields: []CustomFieldValue{{ID: "f1", Value: "ada"}},
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != "abc" {
		t.Fatalf("task id = %q", task.ID)
	}
	req := api.last()
	if req.Auth != "pk_1_TOKEN" || req.ContentType != "application/json" {
		t.Fatalf("headers: auth=%q type=%q", req.Auth, req.ContentType)
	}
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["name"] != "Ada Lovelace" || body["description"] != "chat-id: 100\naccount: ada" {
		t.Fatalf("body = %v", body)
	}
	fields, _ := body["custom_fields"].([]any)
	if len(fields) != 1 {
		t.Fatalf("custom_fields = %v", body["custom_fields"])
	}
}

func TestTaskReadsAndUpdate(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("GET /task/abc", 200, `{"id":"abc","name":"n"}`)
	api.handle("PUT /task/abc", 200, `{"id":"abc","name":"renamed"}`)
	api.handle("GET /list/901", 200, `{"id":"901","name":"Inbox"}`)
	c := New(Options{BaseURL: srv.URL})
	ctx := context.Background()

	if task, err := c.GetTask(ctx, "abc"); err != nil || task.Name != "n" {
		t.Fatalf("GetTask = %+v, %v", task, err)
	}
	if task, err := c.UpdateTask(ctx, "abc", TaskRequest{Name: "renamed"}); err != nil || task.Name != "renamed" {
		t.Fatalf("UpdateTask = %+v, %v", task, err)
	}
	if list, err := c.GetList(ctx, "901"); err != nil || list.Name != "Inbox" {
		t.Fatalf("GetList = %+v, %v", list, err)
	}
}

func TestTaskCallsTagSpansWithTaskID(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("GET /task/abc", 200, `{"id":"abc"}`)
	api.handle("POST /task/abc/comment", 200, `{"id":"c1"}`)
	api.handle("GET /list/901", 200, `{"id":"901"}`)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	c := New(Options{BaseURL: srv.URL, Tracer: tp.Tracer("test")})
	ctx := context.Background()

	if _, err := c.GetTask(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateTaskComment(ctx, "abc", CommentRequest{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetList(ctx, "901"); err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"clickup.getTask": "abc", "clickup.createTaskComment": "abc", "clickup.getList": ""}
	spans := sr.Ended()
	if len(spans) != len(want) {
		t.Fatalf("ended spans = %d, want %d", len(spans), len(want))
	}
	for _, s := range spans {
		got := ""
		for _, kv := range s.Attributes() {
			if kv.Key == otel.AttrTaskID {
				got = kv.Value.AsString()
			}
		}
		if got != want[s.Name()] {
			t.Errorf("%s task id = %q, want %q", s.Name(), got, want[s.Name()])
		}
	}
}

func TestFindField(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("GET /list/901/field", 200,
		`{"fields":[{"id":"f0","name":"Phone","type":"phone"},{"id":"f1","name":"Telegram/Signal","type":"short_text"}]}`)
	c := New(Options{BaseURL: srv.URL})

	f, ok, err := c.FindField(context.Background(), "901", "Telegram/Signal")
	if err != nil || !ok || f.ID != "f1" {
		t.Fatalf("FindField = %+v, %v, %v", f, ok, err)
	}
	_, ok, err = c.FindField(context.Background(), "901", "Missing")
	if err != nil || ok {
		t.Fatalf("FindField(Missing) = %v, %v", ok, err)
	}
}

func TestCreateTaskComment(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /task/abc/comment", 200, `{"id":458,"hist_id":"26508","date":1568036964079}`)
	c := New(Options{BaseURL: srv.URL})

	res, err := c.CreateTaskComment(context.Background(), "abc", CommentRequest{CommentText: "hello"})
	if err != nil {
		t.Fatalf("CreateTaskComment: %v", err)
	}
	if res.ID != "458" || res.HistID != "26508" {
		t.Fatalf("result = %+v", res)
	}
	if got := string(api.last().Body); got != `{"comment_text":"hello"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestCreateTaskAttachment(t *testing.T) {
	api, srv := newFakeAPI(t)
	var gotName, gotData string
	api.routes["POST /task/abc/attachment"] = func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("attachment")
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		defer file.Close()
		raw, _ := io.ReadAll(file)
		gotName, gotData = header.Filename, string(raw)
		_, _ = w.Write([]byte(`{"id":"att1","title":"report.pdf","url":"https://files/att1"}`))
	}
	c := New(Options{BaseURL: srv.URL})

	att, err := c.CreateTaskAttachment(context.Background(), "abc", "report.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("CreateTaskAttachment: %v", err)
	}
	if att.ID != "att1" || gotName != "report.pdf" || gotData != "%PDF" {
		t.Fatalf("attachment = %+v name=%q data=%q", att, gotName, gotData)
	}
	if !strings.HasPrefix(api.last().ContentType, "multipart/form-data") {
		t.Fatalf("content type = %q", api.last().ContentType)
	}
}

func TestAPIError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("GET /task/nope", 401, `{"err":"Token invalid","ECODE":"OAUTH_025"}`)
	api.handle("GET /task/raw", 502, `bad gateway`)
	c := New(Options{BaseURL: srv.URL})

	_, err := c.GetTask(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 401 || apiErr.Code != "OAUTH_025" || apiErr.Message != "Token invalid" {
		t.Fatalf("apiErr = %+v", apiErr)
	}

	_, err = c.GetTask(context.Background(), "raw")
	if !errors.As(err, &apiErr) || apiErr.Status != 502 || apiErr.Message != "bad gateway" {
		t.Fatalf("raw error = %v", err)
	}
}

func TestWebhooks(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /team/42/webhook", 200, `{"id":"wh1","webhook":{"id":"wh1","endpoint":"https://relay/clickup","events":["taskCommentPosted"],"secret":"s3"}}`)
	api.handle("GET /team/42/webhook", 200, `{"webhooks":[{"id":"wh1","endpoint":"https://relay/clickup","events":["*"],"userid":183,"team_id":42}]}`)
	api.handle("PUT /webhook/wh1", 200, `{"id":"wh1","webhook":{"id":"wh1","endpoint":"https://relay/v2","events":["taskDeleted"]}}`)
	api.handle("DELETE /webhook/wh1", 200, `{}`)
	c := New(Options{BaseURL: srv.URL})
	ctx := context.Background()

	if _, err := c.ListWebhooks(ctx); !errors.Is(err, ErrNoTeam) {
		t.Fatalf("ListWebhooks without team = %v", err)
	}
	c.SetCredentials("tok", "42")

	hook, err := c.CreateWebhook(ctx, WebhookRequest{Endpoint: "https://relay/clickup", Events: []string{EventTaskCommentPosted}})
	if err != nil || hook.ID != "wh1" || hook.Secret != "s3" {
		t.Fatalf("CreateWebhook = %+v, %v", hook, err)
	}
	hooks, err := c.ListWebhooks(ctx)
	if err != nil || len(hooks) != 1 || hooks[0].UserID != "183" || hooks[0].TeamID != "42" {
		t.Fatalf("ListWebhooks = %+v, %v", hooks, err)
	}
	hook, err = c.UpdateWebhook(ctx, "wh1", WebhookRequest{Endpoint: "https://relay/v2", Events: []string{EventTaskDeleted}})
	if err != nil || hook.Endpoint != "https://relay/v2" {
		t.Fatalf("UpdateWebhook = %+v, %v", hook, err)
	}
	if err := c.DeleteWebhook(ctx, "wh1"); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if api.last().Auth != "tok" {
		t.Fatalf("credentials not applied: %q", api.last().Auth)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("download must not carry credentials")
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()
	c := New(Options{Token: "secret"})

	data, err := c.Download(context.Background(), srv.URL+"/att/report.pdf")
	if err != nil || string(data) != "file-bytes" {
		t.Fatalf("Download = %q, %v", data, err)
	}
	_, err = c.Download(context.Background(), srv.URL+"/missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("missing download err = %v", err)
	}
}

func TestPayloadDecoding(t *testing.T) {
	raw := `{
		"event": "taskCommentPosted",
		"task_id": "abc",
		"webhook_id": "wh1",
		"history_items": [{
			"id": "2800763136717140857",
			"field": "comment",
			"comment": {
				"id": 90120062,
				"comment": [
					{"text": "/tg hello "},
					{"text": "report.pdf", "type": "attachment", "attachment": {"id": "a1", "title": "report.pdf", "url": "https://files/report.pdf"}}
				],
				"text_content": "/tg hello report.pdf"
			}
		}]
	}`
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Event != EventTaskCommentPosted || p.TaskID != "abc" || len(p.HistoryItems) != 1 {
		t.Fatalf("payload = %+v", p)
	}
	c := p.HistoryItems[0].Comment
	if c == nil || c.ID != "90120062" || len(c.Lines) != 2 || c.Lines[1].Attachment.URL != "https://files/report.pdf" {
		t.Fatalf("comment = %+v", c)
	}
}

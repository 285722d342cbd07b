package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatbot-go/internal/bots"
	"github.com/comigor/chatbot-go/internal/chat"
	"github.com/comigor/chatbot-go/internal/llm"
	"github.com/comigor/chatbot-go/internal/messagelog"
	"github.com/comigor/chatbot-go/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	botSvc := bots.NewService(st)
	chatSvc := chat.NewService(messagelog.New(st), llm.EchoGenerator{}, botSvc, chat.Options{})
	srv := httptest.NewServer(New(chatSvc, botSvc, "/api/v1").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any, header map[string]string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type sseEvent struct {
	Event string
	Data  string
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func createBot(t *testing.T, srv *httptest.Server, password string) store.Bot {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/bot", bots.CreateRequest{
		Headline:       "Helper",
		StarterMessage: store.StarterMessage{Message: "Hi!", ActionItems: []string{"Start"}},
		AdminPassword:  password,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[store.Bot](t, resp)
}

func TestWelcome(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"message": "Welcome to Chatbot API"}, decode[map[string]string](t, resp))
}

func TestBotRoutes(t *testing.T) {
	srv := newTestServer(t)
	bot := createBot(t, srv, "pw")
	require.NotEmpty(t, bot.ID)

	raw := do(t, http.MethodGet, srv.URL+"/api/v1/bot/"+bot.ID, nil, map[string]string{AdminPasswordHeader: "pw"})
	require.Equal(t, http.StatusOK, raw.StatusCode)
	body, err := io.ReadAll(raw.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "admin_password", "the password hash is never returned")

	list := do(t, http.MethodGet, srv.URL+"/api/v1/bot", nil, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	summaries := decode[[]map[string]any](t, list)
	require.Len(t, summaries, 1)
	assert.Equal(t, bot.ID, summaries[0]["id"])
	assert.NotContains(t, summaries[0], "starter_message")

	upd := do(t, http.MethodPut, srv.URL+"/api/v1/bot/"+bot.ID,
		map[string]string{"headline": "Renamed"}, map[string]string{AdminPasswordHeader: "pw"})
	require.Equal(t, http.StatusOK, upd.StatusCode)
	assert.Equal(t, "Renamed", decode[store.Bot](t, upd).Headline)

	del := do(t, http.MethodDelete, srv.URL+"/api/v1/bot/"+bot.ID, nil, map[string]string{AdminPasswordHeader: "pw"})
	require.Equal(t, http.StatusNoContent, del.StatusCode)
}

func TestAdminGuard(t *testing.T) {
	srv := newTestServer(t)
	bot := createBot(t, srv, "pw")

	tests := []struct {
		name   string
		botID  string
		header map[string]string
		detail string
	}{
		{"missing header", bot.ID, nil, "Admin password is required"},
		{"wrong password", bot.ID, map[string]string{AdminPasswordHeader: "nope"}, "Invalid admin password"},
		{"unknown bot", "ghost", map[string]string{AdminPasswordHeader: "pw"}, "Invalid admin password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
				resp := do(t, method, srv.URL+"/api/v1/bot/"+tt.botID, map[string]string{}, tt.header)
				require.Equal(t, http.StatusUnauthorized, resp.StatusCode, method)
				assert.Equal(t, tt.detail, decode[map[string]string](t, resp)["detail"])
			}
		})
	}
}

func TestCreateBotValidation(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/bot", map[string]string{"headline": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/bot", strings.NewReader("{not json"))
	require.NoError(t, err)
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Equal(t, "invalid JSON body", decode[map[string]string](t, bad)["detail"])
}

func TestChatSSETurnAndHistory(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/chat/sse",
		chat.SendRequest{ChatID: "chat-1", BotID: "bot-1", Message: "hi"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.Len(t, events, 1+len("Echo: hi")+1)
	assert.Equal(t, "user_message", events[0].Event)
	assert.Equal(t, "done", events[len(events)-1].Event)

	var user chat.UserMessagePayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &user))
	assert.Equal(t, "hi", user.Message)
	assert.Equal(t, "received", user.Status)

	var last chat.AssistantMessagePayload
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2].Data), &last))
	assert.Equal(t, "Echo: hi", last.Buffer)

	hist := do(t, http.MethodGet, srv.URL+"/api/v1/chat/history?chat_id=chat-1&bot_id=bot-1", nil, nil)
	require.Equal(t, http.StatusOK, hist.StatusCode)
	h := decode[chat.ChatHistory](t, hist)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, user.MessageID, h.Messages[0].MessageID)
	assert.Equal(t, "Echo: hi", h.Messages[1].Message)

	missing := do(t, http.MethodGet, srv.URL+"/api/v1/chat/history?chat_id=chat-1&bot_id=other", nil, nil)
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, "Conversation not found", decode[map[string]string](t, missing)["detail"])
}

func TestChatSSERejectsForeignChat(t *testing.T) {
	srv := newTestServer(t)
	first := do(t, http.MethodPost, srv.URL+"/api/v1/chat/sse", chat.SendRequest{ChatID: "c", BotID: "a", Message: "hi"}, nil)
	_, _ = io.Copy(io.Discard, first.Body)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/chat/sse", chat.SendRequest{ChatID: "c", BotID: "b", Message: "hi"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestEditMessageRoute(t *testing.T) {
	srv := newTestServer(t)
	turn := do(t, http.MethodPost, srv.URL+"/api/v1/chat/sse", chat.SendRequest{ChatID: "c", BotID: "b", Message: "hi"}, nil)
	events := readEvents(t, turn.Body)
	var user chat.UserMessagePayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &user))

	updated := "hello"
	resp := do(t, http.MethodPut, srv.URL+"/api/v1/chat/message", chat.EditRequest{
		ChatID: "c", BotID: "b", MessageID: user.MessageID, UpdatedValue: &updated,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[chat.ChatHistory](t, resp)
	assert.Equal(t, []string{"hi", "hello"}, h.Messages[0].Versions)

	neither := do(t, http.MethodPut, srv.URL+"/api/v1/chat/message", chat.EditRequest{
		ChatID: "c", BotID: "b", MessageID: user.MessageID,
	}, nil)
	require.Equal(t, http.StatusBadRequest, neither.StatusCode)
	assert.Equal(t, "Either updated_value or is_delete must be provided", decode[map[string]string](t, neither)["detail"])

	unknown := do(t, http.MethodPut, srv.URL+"/api/v1/chat/message", chat.EditRequest{
		ChatID: "c", BotID: "b", MessageID: "nope", IsDelete: true,
	}, nil)
	require.Equal(t, http.StatusNotFound, unknown.StatusCode)
	assert.Equal(t, "Message not found", decode[map[string]string](t, unknown)["detail"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodOptions, srv.URL+"/api/v1/chat/sse", nil, map[string]string{
		"Origin":                         "https://app.example.com",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "content-type,admin-password",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type,admin-password", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")
}

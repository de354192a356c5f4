package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	tok string
	err error
}

func (f fakeTokens) Token(context.Context) (string, error) { return f.tok, f.err }

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(fakeTokens{tok: "wa-token"}, "12345",
		WithBaseURL(srv.URL+"/"),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "1")
	require.ErrorContains(t, err, "token provider")
	_, err = NewClient(fakeTokens{}, " ")
	require.ErrorContains(t, err, "phone id")
}

func TestSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/12345/messages", r.URL.Path)
		require.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Equal(t, "whatsapp", body["messaging_product"])
		require.Equal(t, "573001112233", body["to"])
		require.Equal(t, "text", body["type"])
		require.Equal(t, map[string]any{"body": "¡Hola!"}, body["text"])
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv).SendText(context.Background(), "573001112233", "¡Hola!")
	require.NoError(t, err)
	require.Equal(t, "wamid.1", id)
}

func TestSendButtons_CapsButtonsAndTitles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type        string      `json:"type"`
			Interactive interactive `json:"interactive"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "interactive", body.Type)
		require.Len(t, body.Interactive.Action.Buttons, 3)
		require.Equal(t, "Lunes 24 - 10:00 AM,", body.Interactive.Action.Buttons[0].Reply.Title)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.2"}]}`))
	}))
	defer srv.Close()

	buttons := []Button{
		{ID: "1", Title: "Lunes 24 - 10:00 AM, hora Colombia"},
		{ID: "2", Title: "b"}, {ID: "3", Title: "c"}, {ID: "4", Title: "d"},
	}
	id, err := newTestClient(t, srv).SendButtons(context.Background(), "57300", "Elige", buttons)
	require.NoError(t, err)
	require.Equal(t, "wamid.2", id)
}

func TestMarkRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"messaging_product":"whatsapp","status":"read","message_id":"wamid.in"}`, string(raw))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv).MarkRead(context.Background(), "wamid.in"))
}

func TestSend_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad token"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).SendText(context.Background(), "1", "x")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "bad token")

	c, err := NewClient(fakeTokens{err: errors.New("ssm down")}, "1")
	require.NoError(t, err)
	_, err = c.SendText(context.Background(), "1", "x")
	require.ErrorContains(t, err, "ssm down")
}

func TestSend_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(fakeTokens{tok: "t"}, "1", WithBaseURL(srv.URL), WithRateLimit(0.1, 1))
	require.NoError(t, err)

	_, err = c.SendText(context.Background(), "1", "uno")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.SendText(ctx, "1", "dos")
	require.ErrorContains(t, err, "rate limit")
}

const textWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"profile": {"name": "Ana"}, "wa_id": "573001112233"}],
        "messages": [
          {"from": "573001112233", "id": "wamid.A", "timestamp": "1700000000", "type": "text", "text": {"body": "hola"}},
          {"from": "573001112233", "id": "wamid.B", "timestamp": "1700000001", "type": "image", "image": {"id": "img"}},
          {"from": "573001112233", "id": "wamid.C", "timestamp": "1700000002", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "2", "title": "Lunes 24 - 2:00 PM"}}}
        ]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	msgs, err := ParseWebhook([]byte(textWebhook))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	require.Equal(t, "wamid.A", msgs[0].ID)
	require.Equal(t, "573001112233", msgs[0].From)
	require.Equal(t, "Ana", msgs[0].ProfileName)
	require.Equal(t, "hola", msgs[0].Text)
	require.True(t, msgs[0].IsText())

	require.Equal(t, "image", msgs[1].Type)
	require.False(t, msgs[1].IsText())

	require.Equal(t, "Lunes 24 - 2:00 PM", msgs[2].Text)
	require.True(t, msgs[2].IsText())
}

func TestParseWebhook_StatusCallbackAndGarbage(t *testing.T) {
	msgs, err := ParseWebhook([]byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"x","status":"read"}]}}]}]}`))
	require.NoError(t, err)
	require.Empty(t, msgs)

	_, err = ParseWebhook([]byte(`{`))
	require.Error(t, err)
}

func TestVerifyChallenge(t *testing.T) {
	got, ok := VerifyChallenge("subscribe", "secret", "42", "secret")
	require.True(t, ok)
	require.Equal(t, "42", got)

	_, ok = VerifyChallenge("subscribe", "wrong", "42", "secret")
	require.False(t, ok)
	_, ok = VerifyChallenge("unsubscribe", "secret", "42", "secret")
	require.False(t, ok)
	_, ok = VerifyChallenge("subscribe", "", "42", "")
	require.False(t, ok)
}

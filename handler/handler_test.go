package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/integrations/whatsapp"
	"sdr-agent/internal/usecase"
)

type stubTurns struct {
	mu  sync.Mutex
	out usecase.TurnOutput
	err error
	ins []usecase.TurnInput
}

func (s *stubTurns) Process(_ context.Context, in usecase.TurnInput) (usecase.TurnOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ins = append(s.ins, in)
	return s.out, s.err
}

func (s *stubTurns) FallbackReply() string { return "fallback" }

type sent struct{ to, text string }

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	read    []string
	sendErr error
	readErr error
}

func (f *fakeMessenger) SendText(_ context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, text: text})
	return "wamid.out", f.sendErr
}

func (f *fakeMessenger) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return f.readErr
}

type buttonMessenger struct {
	fakeMessenger
	buttons [][]whatsapp.Button
}

func (b *buttonMessenger) SendButtons(_ context.Context, to, text string, buttons []whatsapp.Button) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{to: to, text: text})
	b.buttons = append(b.buttons, buttons)
	return "wamid.btn", nil
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type fakeMetrics struct {
	kinds []string
}

func (f *fakeMetrics) WebhookMessage(kind string) { f.kinds = append(f.kinds, kind) }
func (f *fakeMetrics) Render() (string, error)     { return "sdr_turns_total 1\n", nil }

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "contacts": [{"profile": {"name": "Ana"}, "wa_id": "573001112233"}],
    "messages": [
      {"from": "573001112233", "id": "wamid.A", "type": "text", "text": {"body": "hola"}},
      {"from": "573001112233", "id": "wamid.B", "type": "sticker", "sticker": {"id": "s"}}
    ]
  }}]}]
}`

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_TestMessage(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{Reply: "¡Hola!", State: domain.StateWelcome, Score: 0}}
	h, err := NewHandler(turns)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/test/message", `{"phoneNumber":"573001112233","message":"hola"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []usecase.TurnInput{{Identity: "573001112233", Message: "hola"}}, turns.ins)

	out := parseBody[testMessageResponse](t, resp.Body)
	require.Equal(t, "¡Hola!", out.Reply)
	require.Equal(t, "WELCOME", out.State)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_TestMessageReportsLeadStatusAndSlots(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{
		Reply:      "Elige un horario",
		State:      domain.StateClosing,
		Score:      70,
		LeadStatus: "hot",
		Slots:      []string{"Lunes 24 - 10:00 AM", "Lunes 24 - 2:00 PM"},
	}}
	h, err := NewHandler(turns)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/test/message", `{"phoneNumber":"57300","message":"sí"}`))
	require.NoError(t, err)
	out := parseBody[testMessageResponse](t, resp.Body)
	require.Equal(t, "hot", out.LeadStatus)
	require.Equal(t, []string{"Lunes 24 - 10:00 AM", "Lunes 24 - 2:00 PM"}, out.Slots)
}

func TestHandle_ReceiveWebhookSendsSlotsAsButtons(t *testing.T) {
	slots := []string{"Lunes 24 - 10:00 AM", "Martes 25 - 2:00 PM"}
	turns := &stubTurns{out: usecase.TurnOutput{Reply: "Elige un horario", Slots: slots}}
	messenger := &buttonMessenger{}
	h, err := NewHandler(turns, WithMessenger(messenger))
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", webhookBody))
	require.NoError(t, err)
	require.Equal(t, []sent{{to: "573001112233", text: "Elige un horario"}}, messenger.sent)
	require.Equal(t, [][]whatsapp.Button{{
		{ID: "1", Title: "Lunes 24 - 10:00 AM"},
		{ID: "2", Title: "Martes 25 - 2:00 PM"},
	}}, messenger.buttons)
}

func TestHandle_ReceiveWebhookPlainTextWithoutButtonSupport(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{Reply: "Elige", Slots: []string{"Lunes 24 - 10:00 AM"}}}
	messenger := &fakeMessenger{}
	h, err := NewHandler(turns, WithMessenger(messenger))
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", webhookBody))
	require.NoError(t, err)
	require.Equal(t, []sent{{to: "573001112233", text: "Elige"}}, messenger.sent)
}

func TestHandle_TestMessageInvalidBody(t *testing.T) {
	h, err := NewHandler(&stubTurns{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/test/message", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json", out.Reason)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_identity"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "invalid message", err: &usecase.Error{Code: usecase.ErrorInvalidMessage, Reason: "message_too_long"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidMessage)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "llm_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "llm_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "checkpoint_save_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubTurns{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/test/message", `{"phoneNumber":"1","message":"hola"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, parseBody[errorResponse](t, resp.Body).Error)
		})
	}
}

func TestHandle_TestEndpointDisabled(t *testing.T) {
	h, err := NewHandler(&stubTurns{}, WithTestEndpoint(false))
	require.NoError(t, err)
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/test/message", `{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubTurns{})
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/health", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_VerifyWebhook(t *testing.T) {
	h, err := NewHandler(&stubTurns{}, WithVerifyToken(staticToken("secret")))
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/webhook", "")
	event.QueryStringParameters = map[string]string{"hub.mode": "subscribe", "hub.verify_token": "secret", "hub.challenge": "1158201444"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1158201444", resp.Body)

	event.QueryStringParameters["hub.verify_token"] = "guess"
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandle_ReceiveWebhook(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{Reply: "¡Hola, Ana!"}}
	messenger := &fakeMessenger{}
	m := &fakeMetrics{}
	h, err := NewHandler(turns, WithMessenger(messenger), WithMetrics(m))
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", webhookBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, webhookResponse{Status: "ok", Processed: 1}, parseBody[webhookResponse](t, resp.Body))

	require.Equal(t, []usecase.TurnInput{{Identity: "573001112233", Message: "hola"}}, turns.ins)
	require.Equal(t, []string{"wamid.A"}, messenger.read)
	require.Equal(t, []sent{{to: "573001112233", text: "¡Hola, Ana!"}}, messenger.sent)
	require.Equal(t, []string{"text", "sticker"}, m.kinds)
}

func TestHandle_ReceiveWebhookSendsFallbackAndAlways200(t *testing.T) {
	turns := &stubTurns{err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "llm_error"}}
	messenger := &fakeMessenger{readErr: errors.New("expired"), sendErr: errors.New("401")}
	h, err := NewHandler(turns, WithMessenger(messenger))
	require.NoError(t, err)

	event := makeEvent(http.MethodPost, "/webhook", base64.StdEncoding.EncodeToString([]byte(webhookBody)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []sent{{to: "573001112233", text: "fallback"}}, messenger.sent)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", `{`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ignored", parseBody[webhookResponse](t, resp.Body).Status)
}

const burstWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "messages": [
      {"from": "571", "id": "a1", "type": "text", "text": {"body": "uno"}},
      {"from": "572", "id": "b1", "type": "text", "text": {"body": "hola"}},
      {"from": "571", "id": "a2", "type": "text", "text": {"body": "dos"}},
      {"from": "571", "id": "a3", "type": "text", "text": {"body": "tres"}},
      {"from": "573", "id": "c1", "type": "audio", "audio": {"id": "x"}}
    ]
  }}]}]
}`

func TestHandle_ReceiveWebhookKeepsPerSenderOrder(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{Reply: "ok"}}
	messenger := &fakeMessenger{}
	h, err := NewHandler(turns, WithMessenger(messenger))
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", burstWebhook))
	require.NoError(t, err)
	require.Equal(t, webhookResponse{Status: "ok", Processed: 4}, parseBody[webhookResponse](t, resp.Body))

	var first []string
	for _, in := range turns.ins {
		if in.Identity == "571" {
			first = append(first, in.Message)
		}
	}
	require.Equal(t, []string{"uno", "dos", "tres"}, first)
	require.Len(t, messenger.sent, 4)
	require.ElementsMatch(t, []string{"a1", "a2", "a3", "b1"}, messenger.read)
}

func TestHandle_MetricsAndNotFound(t *testing.T) {
	h, err := NewHandler(&stubTurns{}, WithMetrics(&fakeMetrics{}))
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/metrics", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Body, "sdr_turns_total")

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodDelete, "/webhook", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Package handler adapts API Gateway proxy events to the turn service: the
// WhatsApp webhook, a JSON test endpoint, health and metrics.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sdr-agent/internal/integrations/whatsapp"
	"sdr-agent/internal/logging"
	"sdr-agent/internal/usecase"
)

const (
	correlationHeader    = "X-Correlation-Id"
	maxConcurrentSenders = 4
)

// TurnProcessor runs one conversation turn. *usecase.TurnService satisfies it.
type TurnProcessor interface {
	Process(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
	FallbackReply() string
}

// Messenger delivers replies. *whatsapp.Client satisfies it.
type Messenger interface {
	SendText(ctx context.Context, to, text string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// ButtonSender is implemented by messengers that can attach quick-reply
// buttons. Slot offers use it when available.
type ButtonSender interface {
	SendButtons(ctx context.Context, to, text string, buttons []whatsapp.Button) (string, error)
}

// TokenProvider yields the webhook verify token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Metrics counts webhook traffic and renders the registry.
type Metrics interface {
	WebhookMessage(kind string)
	Render() (string, error)
}

type Handler struct {
	turns        TurnProcessor
	messenger    Messenger
	verifyToken  TokenProvider
	metrics      Metrics
	logger       *slog.Logger
	testEndpoint bool
}

type Option func(*Handler)

func WithMessenger(m Messenger) Option {
	return func(h *Handler) { h.messenger = m }
}

func WithVerifyToken(tp TokenProvider) Option {
	return func(h *Handler) { h.verifyToken = tp }
}

func WithMetrics(m Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTestEndpoint toggles POST /test/message.
func WithTestEndpoint(enabled bool) Option {
	return func(h *Handler) { h.testEndpoint = enabled }
}

func NewHandler(turns TurnProcessor, opts ...Option) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn processor must not be nil")
	}
	h := &Handler{turns: turns, logger: logging.NewNop(), testEndpoint: true}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type testMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type testMessageResponse struct {
	Reply      string   `json:"reply"`
	State      string   `json:"state,omitempty"`
	Score      int      `json:"score"`
	LeadStatus string   `json:"leadStatus,omitempty"`
	Slots      []string `json:"slots,omitempty"`
	Deflected  bool     `json:"deflected,omitempty"`
}

type webhookResponse struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.logger.With("correlation_id", corrID)

	path := strings.TrimRight(req.Path, "/")
	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodGet && path == "/health":
		resp = jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
	case req.HTTPMethod == http.MethodGet && path == "/metrics":
		resp = h.renderMetrics(log)
	case req.HTTPMethod == http.MethodGet && path == "/webhook":
		resp = h.verifyWebhook(ctx, log, req.QueryStringParameters)
	case req.HTTPMethod == http.MethodPost && path == "/webhook":
		resp = h.receiveWebhook(ctx, log, req)
	case req.HTTPMethod == http.MethodPost && path == "/test/message" && h.testEndpoint:
		resp = h.testMessage(ctx, log, req)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	return resp, nil
}

func (h *Handler) verifyWebhook(ctx context.Context, log *slog.Logger, q map[string]string) events.APIGatewayProxyResponse {
	if h.verifyToken == nil {
		return jsonResponse(http.StatusForbidden, errorResponse{Error: "FORBIDDEN"})
	}
	expected, err := h.verifyToken.Token(ctx)
	if err != nil {
		log.Error("load verify token failed", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	challenge, ok := whatsapp.VerifyChallenge(q["hub.mode"], q["hub.verify_token"], q["hub.challenge"], expected)
	if !ok {
		log.Warn("webhook verification rejected", "mode", q["hub.mode"])
		return jsonResponse(http.StatusForbidden, errorResponse{Error: "FORBIDDEN"})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       challenge,
	}
}

// receiveWebhook always answers 200; the Cloud API retries anything else
// and a retried message would be answered twice.
func (h *Handler) receiveWebhook(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		log.Warn("undecodable webhook body", "err", err)
		return jsonResponse(http.StatusOK, webhookResponse{Status: "ignored"})
	}
	msgs, err := whatsapp.ParseWebhook(body)
	if err != nil {
		log.Warn("malformed webhook payload", "err", err)
		return jsonResponse(http.StatusOK, webhookResponse{Status: "ignored"})
	}

	// Senders are answered concurrently; one sender's messages stay in order.
	var senders []string
	bySender := make(map[string][]whatsapp.InboundMessage)
	processed := 0
	for _, msg := range msgs {
		if h.metrics != nil {
			h.metrics.WebhookMessage(msg.Type)
		}
		if !msg.IsText() {
			log.Info("non-text message ignored", "phone", logging.Phone(msg.From), "type", msg.Type)
			continue
		}
		if _, ok := bySender[msg.From]; !ok {
			senders = append(senders, msg.From)
		}
		bySender[msg.From] = append(bySender[msg.From], msg)
		processed++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSenders)
	for _, from := range senders {
		queue := bySender[from]
		g.Go(func() error {
			for _, msg := range queue {
				h.answer(gctx, log, msg)
			}
			return nil
		})
	}
	_ = g.Wait()
	return jsonResponse(http.StatusOK, webhookResponse{Status: "ok", Processed: processed})
}

func (h *Handler) answer(ctx context.Context, log *slog.Logger, msg whatsapp.InboundMessage) {
	log = log.With("phone", logging.Phone(msg.From), "message_id", msg.ID)

	reply := h.turns.FallbackReply()
	var slots []string
	out, err := h.turns.Process(ctx, usecase.TurnInput{Identity: msg.From, Message: msg.Text})
	if err == nil {
		reply, slots = out.Reply, out.Slots
	}

	if h.messenger == nil {
		return
	}
	if err := h.messenger.MarkRead(ctx, msg.ID); err != nil {
		log.Warn("mark read failed", "err", err)
	}
	if err := h.deliver(ctx, msg.From, reply, slots); err != nil {
		log.Error("send reply failed", "err", err)
	}
}

func (h *Handler) deliver(ctx context.Context, to, reply string, slots []string) error {
	bs, ok := h.messenger.(ButtonSender)
	if !ok || len(slots) == 0 {
		_, err := h.messenger.SendText(ctx, to, reply)
		return err
	}
	buttons := make([]whatsapp.Button, 0, len(slots))
	for i, slot := range slots {
		buttons = append(buttons, whatsapp.Button{ID: strconv.Itoa(i + 1), Title: slot})
	}
	_, err := bs.SendButtons(ctx, to, reply, buttons)
	return err
}

func (h *Handler) testMessage(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	var in testMessageRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
	}

	out, err := h.turns.Process(ctx, usecase.TurnInput{Identity: in.PhoneNumber, Message: in.Message})
	if err != nil {
		status, code, reason := mapError(err)
		log.Warn("test message failed", "code", code, "reason", reason)
		return jsonResponse(status, errorResponse{Error: code, Reason: reason})
	}
	return jsonResponse(http.StatusOK, testMessageResponse{
		Reply:      out.Reply,
		State:      string(out.State),
		Score:      out.Score,
		LeadStatus: out.LeadStatus,
		Slots:      out.Slots,
		Deflected:  out.Deflected,
	})
}

func (h *Handler) renderMetrics(log *slog.Logger) events.APIGatewayProxyResponse {
	if h.metrics == nil {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}
	text, err := h.metrics.Render()
	if err != nil {
		log.Error("render metrics failed", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/plain; version=0.0.4"},
		Body:       text,
	}
}

func mapError(err error) (int, string, string) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected_error"
	}
	switch uerr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidMessage:
		return http.StatusBadRequest, string(uerr.Code), uerr.Reason
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, string(uerr.Code), uerr.Reason
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, string(uerr.Code), uerr.Reason
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal), uerr.Reason
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

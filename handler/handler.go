package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"agenda-agent/internal/domain"
	"agenda-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// TurnDispatcher is the application layer the handler delegates to.
type TurnDispatcher interface {
	Dispatch(ctx context.Context, act domain.Activity) (usecase.TurnOutput, error)
	Welcome(ctx context.Context, act domain.Activity) (string, bool)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler adapts API Gateway bot-connector events to the turn dispatcher.
// The reply activity is returned synchronously in the response body
// (invoke-response style), so no outbound connector call is needed.
type Handler struct {
	dispatcher TurnDispatcher
	log        *slog.Logger
}

// NewHandler creates a Handler over the given dispatcher.
func NewHandler(d TurnDispatcher, log *slog.Logger) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{dispatcher: d, log: log}, nil
}

// Handle processes one inbound activity event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	var act domain.Activity
	if err := json.Unmarshal([]byte(event.Body), &act); err != nil {
		h.log.Warn("malformed activity payload", "corr_id", corrID, "err", err)
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)}), nil
	}

	switch act.Type {
	case domain.ActivityTypeMessage:
		out, err := h.dispatcher.Dispatch(ctx, act)
		if err != nil {
			return h.errorResponse(corrID, err), nil
		}
		h.log.Info("turn completed", "corr_id", corrID, "outcome", string(out.Outcome))
		return jsonResponse(http.StatusOK, corrID, act.Reply(out.Reply)), nil

	case domain.ActivityTypeConversationUpdate:
		welcome, ok := h.dispatcher.Welcome(ctx, act)
		if !ok {
			// Update only concerned the bot itself; nothing to say.
			return jsonResponse(http.StatusOK, corrID, struct{}{}), nil
		}
		return jsonResponse(http.StatusOK, corrID, act.Reply(welcome)), nil

	default:
		// Typing indicators and other activity types are acknowledged
		// without a reply.
		return jsonResponse(http.StatusOK, corrID, struct{}{}), nil
	}
}

func (h *Handler) errorResponse(corrID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		h.log.Warn("dispatch rejected activity", "corr_id", corrID, "code", string(ucErr.Code), "reason", ucErr.Reason)
		return jsonResponse(statusForCode(ucErr.Code), corrID, errorResponse{Error: string(ucErr.Code)})
	}
	h.log.Error("dispatch failed", "corr_id", corrID, "err", err)
	return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)})
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorDenied:
		return http.StatusForbidden
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(payload),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == correlationHeader && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

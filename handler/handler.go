package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chatppt/internal/domain"
	"chatppt/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	codeInternal         = "INTERNAL_ERROR"
	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type UseCase interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	Augment(ctx context.Context, in usecase.SessionInput) (usecase.AugmentOutput, error)
	Render(ctx context.Context, in usecase.SessionInput) (usecase.RenderOutput, error)
	History(ctx context.Context, in usecase.SessionInput) (usecase.HistoryOutput, error)
}

type Handler struct {
	uc     UseCase
	logger *slog.Logger
}

type submitRequest struct {
	SessionID string   `json:"sessionId"`
	Text      string   `json:"text"`
	Files     []string `json:"files"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type submitResponse struct {
	SessionID string      `json:"sessionId"`
	Turn      domain.Turn `json:"turn"`
}

type augmentResponse struct {
	SessionID string            `json:"sessionId"`
	History   domain.History    `json:"history"`
	Images    map[string]string `json:"images,omitempty"`
}

type renderResponse struct {
	SessionID string `json:"sessionId"`
	File      string `json:"file"`
	Title     string `json:"title"`
	Slides    int    `json:"slides"`
}

type historyResponse struct {
	SessionID string         `json:"sessionId"`
	State     domain.State   `json:"state"`
	History   domain.History `json:"history"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewHandler(uc UseCase, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, logger: logger}, nil
}

// Handle routes an API Gateway proxy event to the pipeline.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With(slog.String("correlation_id", correlationID))

	method := strings.ToUpper(event.HTTPMethod)
	route := strings.TrimRight(event.Path, "/")
	logger.InfoContext(ctx, "request", slog.String("method", method), slog.String("path", route))

	status, body := h.route(ctx, logger, method, route, event)
	return jsonResponse(status, correlationID, body), nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, method, route string, event events.APIGatewayProxyRequest) (int, any) {
	switch {
	case route == "/submit" || route == "/upload":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.submit(ctx, logger, event, "")
	case isSessionMessages(route):
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		id := strings.Split(route, "/")[2]
		if pathID := event.PathParameters["id"]; pathID != "" {
			id = pathID
		}
		return h.submit(ctx, logger, event, id)
	case route == "/augment":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.augment(ctx, logger, event)
	case route == "/render":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		return h.render(ctx, logger, event)
	case route == "/history":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		return h.history(ctx, logger, event)
	default:
		return http.StatusNotFound, errorResponse{Error: codeNotFound}
	}
}

func (h *Handler) submit(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest, pathSessionID string) (int, any) {
	var req submitRequest
	if err := decodeBody(event, &req); err != nil {
		return invalidBody(ctx, logger, err)
	}
	if pathSessionID != "" {
		req.SessionID = pathSessionID
	}
	out, err := h.uc.Submit(ctx, usecase.SubmitInput{
		SessionID: req.SessionID,
		Message:   domain.Message{Text: req.Text, Files: req.Files},
	})
	if err != nil {
		return errorStatus(ctx, logger, err)
	}
	return http.StatusOK, submitResponse{SessionID: out.SessionID, Turn: out.Turn}
}

func (h *Handler) augment(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) (int, any) {
	var req sessionRequest
	if err := decodeBody(event, &req); err != nil {
		return invalidBody(ctx, logger, err)
	}
	out, err := h.uc.Augment(ctx, usecase.SessionInput{SessionID: req.SessionID})
	if err != nil {
		return errorStatus(ctx, logger, err)
	}
	return http.StatusOK, augmentResponse{SessionID: out.SessionID, History: out.History, Images: out.Images}
}

func (h *Handler) render(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) (int, any) {
	var req sessionRequest
	if err := decodeBody(event, &req); err != nil {
		return invalidBody(ctx, logger, err)
	}
	out, err := h.uc.Render(ctx, usecase.SessionInput{SessionID: req.SessionID})
	if err != nil {
		return errorStatus(ctx, logger, err)
	}
	return http.StatusOK, renderResponse{
		SessionID: out.SessionID,
		File:      out.Path,
		Title:     out.Presentation.Title,
		Slides:    len(out.Presentation.Slides),
	}
}

func (h *Handler) history(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) (int, any) {
	out, err := h.uc.History(ctx, usecase.SessionInput{SessionID: event.QueryStringParameters["sessionId"]})
	if err != nil {
		return errorStatus(ctx, logger, err)
	}
	history := out.History
	if history == nil {
		history = domain.History{}
	}
	return http.StatusOK, historyResponse{SessionID: out.SessionID, State: out.State, History: history}
}

// isSessionMessages matches /sessions/{id}/messages with a non-empty id.
func isSessionMessages(route string) bool {
	parts := strings.Split(route, "/")
	return len(parts) == 4 && parts[0] == "" && parts[1] == "sessions" && parts[2] != "" && parts[3] == "messages"
}

func decodeBody(event events.APIGatewayProxyRequest, v any) error {
	body := event.Body
	if event.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return err
		}
		body = string(raw)
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func invalidBody(ctx context.Context, logger *slog.Logger, err error) (int, any) {
	logger.WarnContext(ctx, "invalid request body", slog.Any("err", err))
	return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorUsage), Message: usecase.MsgNeedTopic}
}

func methodNotAllowed() (int, any) {
	return http.StatusMethodNotAllowed, errorResponse{Error: codeMethodNotAllowed}
}

// errorStatus maps use case failures onto HTTP statuses. The use case has
// already logged the cause; unexpected errors are logged here.
func errorStatus(ctx context.Context, logger *slog.Logger, err error) (int, any) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.ErrorContext(ctx, "unexpected error", slog.Any("err", err))
		return http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: usecase.MsgRetry}
	}
	resp := errorResponse{Error: string(ue.Code), Message: usecase.UserMessage(err)}
	switch ue.Code {
	case usecase.ErrorUsage:
		return http.StatusBadRequest, resp
	case usecase.ErrorTransient:
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"` + codeInternal + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}

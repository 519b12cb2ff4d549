// Package handlers exposes the HTTP surface of the whatsapp service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service/business"
	"github.com/quipp/service-whatsapp/internal"
)

// APIServer serves the connection and conversation REST endpoints.
type APIServer struct {
	cfg      *config.WhatsAppConfig
	registry business.ConnectionRegistry
	readPath business.ReadPath
}

func NewAPIServer(
	cfg *config.WhatsAppConfig,
	registry business.ConnectionRegistry,
	readPath business.ReadPath,
) *APIServer {
	return &APIServer{
		cfg:      cfg,
		registry: registry,
		readPath: readPath,
	}
}

// Register attaches all API routes onto the mux.
func (s *APIServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/connections", s.createConnection)
	mux.HandleFunc("GET /api/connections", s.listConnections)
	mux.HandleFunc("GET /api/connections/{connectionID}", s.getConnection)
	mux.HandleFunc("DELETE /api/connections/{connectionID}", s.deleteConnection)
	mux.HandleFunc("POST /api/connections/{connectionID}/messages", s.sendMessage)
	mux.HandleFunc("GET /api/connections/{connectionID}/conversations", s.listConversations)
	mux.HandleFunc(
		"GET /api/connections/{connectionID}/conversations/{conversationID}/messages",
		s.listMessages,
	)
	mux.HandleFunc("POST /api/conversations/{conversationID}/read", s.markConversationRead)
}

func (s *APIServer) createConnection(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	var req business.CreateConnectionRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(r.Context(), w, connect.NewError(connect.CodeInvalidArgument, err))
		return
	}

	conn, err := s.registry.CreateConnection(r.Context(), ownerID, req)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusCreated, conn)
}

func (s *APIServer) listConnections(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	list, err := s.registry.ListConnections(r.Context(), ownerID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"items": list})
}

func (s *APIServer) getConnection(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	conn, err := s.registry.GetConnection(r.Context(), ownerID, r.PathValue("connectionID"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, conn)
}

func (s *APIServer) deleteConnection(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	if err = s.registry.DeleteConnection(r.Context(), ownerID, r.PathValue("connectionID")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) sendMessage(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	var req business.SendMessageRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(r.Context(), w, connect.NewError(connect.CodeInvalidArgument, err))
		return
	}

	result, err := s.registry.SendMessage(r.Context(), ownerID, r.PathValue("connectionID"), req)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, result)
}

func (s *APIServer) listConversations(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	list, err := s.readPath.ListConversations(r.Context(), ownerID, r.PathValue("connectionID"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"items": list})
}

func (s *APIServer) listMessages(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	// The connection segment scopes the URL; an unknown or foreign
	// connection 404s before any conversation lookup.
	if _, err = s.registry.GetConnection(r.Context(), ownerID, r.PathValue("connectionID")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 0 {
			s.writeError(r.Context(), w,
				connect.NewError(connect.CodeInvalidArgument, errors.New("limit must be a positive integer")))
			return
		}
		limit = parsed
	}

	page, err := s.readPath.ListMessages(
		r.Context(),
		ownerID,
		r.PathValue("conversationID"),
		r.URL.Query().Get("cursor"),
		limit,
	)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, page)
}

func (s *APIServer) markConversationRead(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.ownerID(r)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	if err = s.readPath.MarkConversationRead(r.Context(), ownerID, r.PathValue("conversationID")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) ownerID(r *http.Request) (string, error) {
	return internal.OwnerIDFromContext(r.Context(), s.cfg.DefaultOwnerID)
}

func (s *APIServer) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Log(ctx).WithError(err).Warn("failed to write response body")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *APIServer) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := connect.CodeOf(err)
	status := httpStatusFor(code)

	if status >= http.StatusInternalServerError {
		util.Log(ctx).WithError(err).Error("request failed")
	}

	msg := err.Error()
	var cErr *connect.Error
	if errors.As(err, &cErr) {
		msg = cErr.Message()
	}

	s.writeJSON(ctx, w, status, errorResponse{Error: msg, Code: code.String()})
}

func httpStatusFor(code connect.Code) int {
	switch code {
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	case connect.CodeUnauthenticated:
		return http.StatusUnauthorized
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeAlreadyExists:
		return http.StatusConflict
	case connect.CodeFailedPrecondition:
		return http.StatusGone
	case connect.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case connect.CodeUnavailable:
		return http.StatusServiceUnavailable
	case connect.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service"
	"github.com/quipp/service-whatsapp/apps/default/service/business"
	"github.com/quipp/service-whatsapp/apps/default/service/handlers"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

type fakeRegistry struct {
	createdName string
	deleted     []string
	sendReq     *business.SendMessageRequest
	err         error
}

func (f *fakeRegistry) CreateConnection(
	_ context.Context,
	_ string,
	req business.CreateConnectionRequest,
) (*models.ConnectionAPI, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.createdName = req.Name
	return &models.ConnectionAPI{ID: "conn-1", Name: req.Name, Status: string(models.StatusConnecting)}, nil
}

func (f *fakeRegistry) GetConnection(_ context.Context, _, id string) (*models.ConnectionAPI, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ConnectionAPI{ID: id, Status: string(models.StatusOpen)}, nil
}

func (f *fakeRegistry) ListConnections(_ context.Context, _ string) ([]*models.ConnectionAPI, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*models.ConnectionAPI{{ID: "conn-1"}, {ID: "conn-2"}}, nil
}

func (f *fakeRegistry) DeleteConnection(_ context.Context, _, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRegistry) SendMessage(
	_ context.Context,
	_, _ string,
	req business.SendMessageRequest,
) (*business.SendMessageResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sendReq = &req
	return &business.SendMessageResult{MessageID: "msg-1", Status: models.DeliverySent}, nil
}

func (f *fakeRegistry) RestoreFromStore(context.Context) error { return nil }
func (f *fakeRegistry) Stats() (int32, int32)                  { return 0, 100 }
func (f *fakeRegistry) Shutdown(context.Context) error         { return nil }

type fakeReadPath struct {
	markedRead []string
	err        error
}

func (f *fakeReadPath) ListConversations(context.Context, string, string) ([]*models.ConversationAPI, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*models.ConversationAPI{{ID: "conv-1"}}, nil
}

func (f *fakeReadPath) ListMessages(
	_ context.Context,
	_, conversationID, _ string,
	_ int,
) (*business.MessagePage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &business.MessagePage{
		Items:   []*models.MessageAPI{{ID: "msg-1", ConversationID: conversationID}},
		HasMore: false,
	}, nil
}

func (f *fakeReadPath) MarkConversationRead(_ context.Context, _, conversationID string) error {
	if f.err != nil {
		return f.err
	}
	f.markedRead = append(f.markedRead, conversationID)
	return nil
}

func newTestServer(reg *fakeRegistry, rp *fakeReadPath) *httptest.Server {
	cfg := &config.WhatsAppConfig{DefaultOwnerID: "owner-test"}
	mux := http.NewServeMux()
	handlers.NewAPIServer(cfg, reg, rp).Register(mux)
	return httptest.NewServer(mux)
}

func TestCreateConnectionEndpoint(t *testing.T) {
	reg := &fakeRegistry{}
	srv := newTestServer(reg, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections", "application/json",
		strings.NewReader(`{"name":"support desk"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "support desk", reg.createdName)

	var body models.ConnectionAPI
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "conn-1", body.ID)
}

func TestCreateConnectionEndpoint_BadJSON(t *testing.T) {
	srv := newTestServer(&fakeRegistry{}, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListConnectionsEndpoint(t *testing.T) {
	srv := newTestServer(&fakeRegistry{}, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connections")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Items []*models.ConnectionAPI `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Items, 2)
}

func TestDeleteConnectionEndpoint(t *testing.T) {
	reg := &fakeRegistry{}
	srv := newTestServer(reg, &fakeReadPath{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/connections/conn-9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"conn-9"}, reg.deleted)
}

func TestSendMessageEndpoint(t *testing.T) {
	reg := &fakeRegistry{}
	srv := newTestServer(reg, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/connections/conn-1/messages", "application/json",
		strings.NewReader(`{"to":"5511888880000","body":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, reg.sendReq)
	assert.Equal(t, "5511888880000", reg.sendReq.To)

	var body business.SendMessageResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "msg-1", body.MessageID)
}

func TestListMessagesEndpoint(t *testing.T) {
	srv := newTestServer(&fakeRegistry{}, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connections/conn-1/conversations/conv-1/messages?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body business.MessagePage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "conv-1", body.Items[0].ConversationID)
}

func TestListMessagesEndpoint_UnknownConnection(t *testing.T) {
	srv := newTestServer(&fakeRegistry{err: service.ErrConnectionNotFound}, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connections/ghost/conversations/conv-1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListMessagesEndpoint_BadLimit(t *testing.T) {
	srv := newTestServer(&fakeRegistry{}, &fakeReadPath{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/connections/conn-1/conversations/conv-1/messages?limit=banana")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkConversationReadEndpoint(t *testing.T) {
	rp := &fakeReadPath{}
	srv := newTestServer(&fakeRegistry{}, rp)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/conversations/conv-1/read", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"conv-1"}, rp.markedRead)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", service.ErrConnectionNotFound, http.StatusNotFound},
		{"already exists", service.ErrConnectionExists, http.StatusConflict},
		{"being deleted", service.ErrConnectionGone, http.StatusGone},
		{"registry full", service.ErrConnectionRegistryFull, http.StatusTooManyRequests},
		{"upstream down", service.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{"send timeout", service.ErrSendTimeout, http.StatusGatewayTimeout},
		{"bad argument", service.ErrRecipientRequired, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeRegistry{err: tc.err}, &fakeReadPath{})
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/connections/conn-1/messages", "application/json",
				strings.NewReader(`{"to":"x","body":"y"}`))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			var body struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.Code)
		})
	}
}

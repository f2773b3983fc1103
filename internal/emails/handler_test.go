package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/middleware"
	"github.com/emailez/backend/internal/models"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) EnqueueEmail(ctx context.Context, cmd dispatch.SendCommand) (*dispatch.EnqueueResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.EnqueueResult), args.Error(1)
}

func (m *mockService) RetryFailedEmails(ctx context.Context, workspaceID uuid.UUID, opts dispatch.RetryOptions) (int, error) {
	args := m.Called(ctx, workspaceID, opts)
	return args.Int(0), args.Error(1)
}

func (m *mockService) GetEmail(ctx context.Context, workspaceID, emailID uuid.UUID) (*models.Email, error) {
	args := m.Called(ctx, workspaceID, emailID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Email), args.Error(1)
}

func (m *mockService) ListEmails(ctx context.Context, workspaceID uuid.UUID, filter models.EmailFilter) ([]*models.Email, int, error) {
	args := m.Called(ctx, workspaceID, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Email), args.Int(1), args.Error(2)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newRouter(svc Service, workspaceID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/v1", func(c *gin.Context) {
		c.Set(middleware.ContextWorkspaceID, workspaceID)
		c.Next()
	})
	NewHandler(svc, nil).Register(g)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestSend_Accepted(t *testing.T) {
	ws, cfgID, emailID := uuid.New(), uuid.New(), uuid.New()
	svc := new(mockService)
	svc.On("EnqueueEmail", mock.Anything, mock.MatchedBy(func(cmd dispatch.SendCommand) bool {
		return cmd.WorkspaceID == ws && cmd.ConfigurationID == cfgID && cmd.To[0] == "a@x.com" && cmd.Subject == "Hi"
	})).Return(&dispatch.EnqueueResult{Accepted: true, EmailID: emailID, JobID: "job-1", Message: "Email queued for sending"}, nil)

	w, env := do(t, newRouter(svc, ws), http.MethodPost, "/v1/emails", map[string]any{
		"email_configuration_id": cfgID.String(),
		"to":                     []string{"a@x.com"},
		"subject":                "Hi",
		"body":                   "Hello",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	var got SendResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.True(t, got.Accepted)
	assert.Equal(t, emailID, got.EmailID)
	assert.Equal(t, "job-1", got.JobID)
	svc.AssertExpectations(t)
}

func TestSend_RejectionStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"configuration", &dispatch.RejectionError{Reason: dispatch.ErrConfigurationNotFound, Message: "Email configuration not found"}, http.StatusNotFound, "configuration_not_found"},
		{"workspace", &dispatch.RejectionError{Reason: dispatch.ErrWorkspaceNotActive, Message: "Workspace not found or not active"}, http.StatusForbidden, "workspace_inactive"},
		{"validation", &dispatch.RejectionError{Reason: dispatch.ErrInvalidRequest, Message: "Invalid send request"}, http.StatusBadRequest, "invalid_request"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockService)
			svc.On("EnqueueEmail", mock.Anything, mock.Anything).Return(nil, tc.err)
			w, env := do(t, newRouter(svc, uuid.New()), http.MethodPost, "/v1/emails", map[string]any{
				"email_configuration_id": uuid.NewString(),
				"to":                     []string{"a@x.com"},
				"subject":                "Hi",
			})
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, env.Code)
			assert.False(t, env.Success)
			var rej *dispatch.RejectionError
			if errors.As(tc.err, &rej) {
				assert.Equal(t, rej.Message, env.Error)
			}
		})
	}
}

func TestSend_BadBodyNeverReachesService(t *testing.T) {
	svc := new(mockService)
	r := newRouter(svc, uuid.New())

	w, _ := do(t, r, http.MethodPost, "/v1/emails", map[string]any{"to": []string{"a@x.com"}, "subject": "Hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/v1/emails", map[string]any{"email_configuration_id": uuid.NewString(), "to": []string{}, "subject": "Hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNotCalled(t, "EnqueueEmail", mock.Anything, mock.Anything)
}

func TestRetryFailed(t *testing.T) {
	ws := uuid.New()
	svc := new(mockService)
	svc.On("RetryFailedEmails", mock.Anything, ws, dispatch.RetryOptions{}).Return(2, nil).Once()
	svc.On("RetryFailedEmails", mock.Anything, ws, dispatch.RetryOptions{MaxRetries: 5, IncludePermanent: true}).Return(4, nil).Once()
	r := newRouter(svc, ws)

	w, env := do(t, r, http.MethodPost, "/v1/emails/retry-failed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"retried_count":2}`, string(env.Data))

	w, env = do(t, r, http.MethodPost, "/v1/emails/retry-failed", map[string]any{"max_retries": 5, "include_permanent": true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"retried_count":4}`, string(env.Data))
	svc.AssertExpectations(t)
}

func TestGet(t *testing.T) {
	ws := uuid.New()
	email := &models.Email{ID: uuid.New(), WorkspaceID: ws, Subject: "Hi", Status: models.EmailStatusSent, AttemptCount: 1}
	missing := uuid.New()
	svc := new(mockService)
	svc.On("GetEmail", mock.Anything, ws, email.ID).Return(email, nil)
	svc.On("GetEmail", mock.Anything, ws, missing).Return(nil, dispatch.ErrEmailNotFound)
	r := newRouter(svc, ws)

	w, env := do(t, r, http.MethodGet, "/v1/emails/"+email.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got models.Email
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.EmailStatusSent, got.Status)

	w, _ = do(t, r, http.MethodGet, "/v1/emails/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodGet, "/v1/emails/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestList_ParsesFilter(t *testing.T) {
	ws := uuid.New()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := new(mockService)
	svc.On("ListEmails", mock.Anything, ws, mock.MatchedBy(func(f models.EmailFilter) bool {
		return f.Status == models.EmailStatusFailed && f.Recipient == "x.com" && f.Subject == "invoice" &&
			f.QueuedFrom != nil && f.QueuedFrom.Equal(from) && f.QueuedTo == nil &&
			f.Ascending && f.Page == 2 && f.PageSize == 10
	})).Return([]*models.Email{{ID: uuid.New(), Subject: "invoice 7", Status: models.EmailStatusFailed}}, 11, nil)

	w, env := do(t, newRouter(svc, ws), http.MethodGet,
		"/v1/emails?status=failed&recipient=x.com&subject=invoice&from=2026-01-01T00:00:00Z&sort=asc&page=2&page_size=10", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var got ListResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 11, got.Total)
	assert.Equal(t, 2, got.Page)
	assert.Len(t, got.Items, 1)
	svc.AssertExpectations(t)
}

func TestList_RejectsBadQuery(t *testing.T) {
	svc := new(mockService)
	r := newRouter(svc, uuid.New())
	for _, q := range []string{"status=delivered", "sort=sideways", "from=yesterday", "page=-1", "page_size=abc"} {
		w, _ := do(t, r, http.MethodGet, "/v1/emails?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	svc.AssertNotCalled(t, "ListEmails", mock.Anything, mock.Anything, mock.Anything)
}

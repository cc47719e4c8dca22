package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"taskdeck/internal/auth"
	apperrors "taskdeck/internal/errors"
	"taskdeck/internal/handler"
	"taskdeck/internal/model"
	"taskdeck/internal/repository"
	"taskdeck/internal/service"
)

// stubAuthService records calls and returns canned values.
type stubAuthService struct {
	loggedOut []uuid.UUID
}

func (s *stubAuthService) Register(ctx context.Context, email, password string) (*model.User, error) {
	return &model.User{ID: uuid.New(), Email: email, CreatedAt: time.Now()}, nil
}

func (s *stubAuthService) Login(ctx context.Context, email, password string) (string, string, error) {
	return "access", "refresh", nil
}

func (s *stubAuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return "", service.ErrInvalidRefreshToken
}

func (s *stubAuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	s.loggedOut = append(s.loggedOut, userID)
	return nil
}

// stubTaskService records the owner id each call was scoped to.
type stubTaskService struct {
	lastUserID uuid.UUID
}

func (s *stubTaskService) Create(ctx context.Context, userID uuid.UUID, title, description string) (*model.Task, error) {
	s.lastUserID = userID
	return &model.Task{ID: uuid.New(), UserID: userID, Title: title, Description: description}, nil
}

func (s *stubTaskService) List(ctx context.Context, userID uuid.UUID, filter repository.TaskFilter) (*service.TaskPage, error) {
	s.lastUserID = userID
	return &service.TaskPage{
		Tasks:      []model.Task{},
		Pagination: service.Pagination{Total: 0, Page: filter.Page, Limit: filter.Limit, Pages: 0},
	}, nil
}

func (s *stubTaskService) Get(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error) {
	s.lastUserID = userID
	return nil, apperrors.ErrTaskNotFound
}

func (s *stubTaskService) Update(ctx context.Context, userID, taskID uuid.UUID, input service.UpdateTaskInput) (*model.Task, error) {
	s.lastUserID = userID
	return nil, apperrors.ErrTaskNotFound
}

func (s *stubTaskService) Toggle(ctx context.Context, userID, taskID uuid.UUID) (*model.Task, error) {
	s.lastUserID = userID
	return nil, apperrors.ErrTaskNotFound
}

func (s *stubTaskService) Delete(ctx context.Context, userID, taskID uuid.UUID) error {
	s.lastUserID = userID
	return apperrors.ErrTaskNotFound
}

func newTestRouter() (*echo.Echo, *auth.JWTService, *stubAuthService, *stubTaskService) {
	jwtService := auth.NewJWTService("test-access", "test-refresh", 15*time.Minute, 7*24*time.Hour)
	authSvc := &stubAuthService{}
	taskSvc := &stubTaskService{}

	e := echo.New()
	Register(e, jwtService, handler.NewAuthHandler(authSvc), handler.NewTaskHandler(taskSvc))

	return e, jwtService, authSvc, taskSvc
}

func TestAccessGuard_MissingTokenIs401(t *testing.T) {
	e, _, _, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessGuard_InvalidTokenIs403(t *testing.T) {
	e, _, _, _ := newTestRouter()

	for _, token := range []string{"garbage", "a.b.c"} {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
}

func TestAccessGuard_RefreshTokenRejectedAsAccess(t *testing.T) {
	e, jwtService, _, _ := newTestRouter()

	refreshToken, err := jwtService.GenerateRefreshToken(uuid.New())
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+refreshToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAccessGuard_ThreadsUserIDToHandlers(t *testing.T) {
	e, jwtService, _, taskSvc := newTestRouter()

	userID := uuid.New()
	accessToken, err := jwtService.GenerateAccessToken(userID)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks?page=2&limit=5", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, taskSvc.lastUserID)

	var page service.TaskPage
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Pagination.Page)
	assert.Equal(t, 5, page.Pagination.Limit)
}

func TestLogout_RequiresTokenAndReturns204(t *testing.T) {
	e, jwtService, authSvc, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, authSvc.loggedOut)

	userID := uuid.New()
	accessToken, err := jwtService.GenerateAccessToken(userID)
	assert.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{userID}, authSvc.loggedOut)
}

func TestRefresh_MissingFieldIs400(t *testing.T) {
	e, _, _, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh_InvalidTokenIs403(t *testing.T) {
	e, _, _, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{"refreshToken":"revoked"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTaskRoutes_MalformedIDIs404(t *testing.T) {
	e, jwtService, _, _ := newTestRouter()

	accessToken, err := jwtService.GenerateAccessToken(uuid.New())
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tasks/not-a-uuid", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type onlineSet map[string]bool

func (s onlineSet) IsOnline(userID string) bool { return s[userID] }

func setupUserRouter(userRepo *mocks.UserRepositoryMock, online onlineSet) *gin.Engine {
	handler := NewUserHandler(userRepo, online)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/users", handler.ListUsers)
	r.GET("/users/:userId/status", handler.GetStatus)
	return r
}

func TestListUsersSkipsCallerAndOverlaysPresence(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	userRepo.On("ListUsers", mock.Anything).Return([]models.User{
		{ID: "u1", Username: "me"},
		{ID: "u2", Username: "bob", IsOnline: true},
		{ID: "u3", Username: "carol"},
	}, nil).Once()
	router := setupUserRouter(userRepo, onlineSet{"u3": true})

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []models.User `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 2)
	assert.False(t, resp.Users[0].IsOnline)
	assert.True(t, resp.Users[1].IsOnline)
}

func TestGetStatusNotFound(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	userRepo.On("GetUser", mock.Anything, "ghost").Return(nil, repositories.ErrUserNotFound).Once()
	router := setupUserRouter(userRepo, onlineSet{})

	req := httptest.NewRequest(http.MethodGet, "/users/ghost/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUsersStoreError(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	userRepo.On("ListUsers", mock.Anything).Return(nil, assert.AnError).Once()
	router := setupUserRouter(userRepo, onlineSet{})

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	userRepo.AssertExpectations(t)
}

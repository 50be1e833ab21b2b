package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/persona"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	New().RegisterRoutes(r)
	return r
}

func TestListRoles(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body RoleList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, persona.DefaultUserRole, body.DefaultRole)
	assert.Equal(t, persona.Roles(), body.Roles)
}

func TestGetRole(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles/su_huynh", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var role persona.Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, persona.SuHuynh, role.UserRole)
	assert.True(t, role.MoodEnabled)

	rec = httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"role not found"}`, rec.Body.String())
}

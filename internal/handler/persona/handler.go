package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaoyue/backend/internal/model/persona"
	"github.com/zhouzirui/xiaoyue/backend/pkg/utils"
)

// RoleList is the body of GET /roles.
type RoleList struct {
	Roles       []persona.Role `json:"roles"`
	DefaultRole string         `json:"default_role"`
}

// Handler 角色表的HTTP处理器
type Handler struct{}

// New 创建角色处理器
func New() *Handler {
	return &Handler{}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/roles", h.handleListRoles)
	r.Get("/roles/{slug}", h.handleGetRole)
}

// handleListRoles 列出所有可选角色
func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, RoleList{
		Roles:       persona.Roles(),
		DefaultRole: persona.DefaultUserRole,
	})
}

func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	for _, role := range persona.Roles() {
		if role.Slug == slug {
			utils.RespondJSON(w, http.StatusOK, role)
			return
		}
	}
	utils.RespondError(w, http.StatusNotFound, "role not found")
}

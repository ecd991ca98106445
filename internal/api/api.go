package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/account"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/archive"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/logger"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/middleware"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/server"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

// API HTTP 业务层：把认证主体和业务服务粘起来，路由交给 httprouter。
type API struct {
	accounts   *account.Service
	ambulances *ambulance.Service
	sessions   *tracking.Service
	archives   *archive.Repo
	log        logger.Logger

	validate      *validator.Validate
	ingestLimiter middleware.RateLimiter
	loginLimiter  middleware.RateLimiter
}

func New(
	accounts *account.Service,
	ambulances *ambulance.Service,
	sessions *tracking.Service,
	archives *archive.Repo,
	ingestLimiter middleware.RateLimiter,
	log logger.Logger,
) *API {
	return &API{
		accounts:      accounts,
		ambulances:    ambulances,
		sessions:      sessions,
		archives:      archives,
		log:           log,
		validate:      validator.New(),
		ingestLimiter: ingestLimiter,
		// 登录接口全局限速，压慢撞库
		loginLimiter: middleware.NewSlidingWindow(time.Minute, 60),
	}
}

// Router 组装全部路由。鉴权、RBAC、限流之外的业务校验都在 handler 里做。
func (a *API) Router() http.Handler {
	r := httprouter.New()

	r.GET("/healthz", a.handleHealthz)

	r.POST("/api/v1/login", a.handleLogin)
	r.POST("/api/v1/password", a.handleChangePassword)

	r.POST("/api/v1/accounts", a.handleCreateAccount)
	r.DELETE("/api/v1/accounts/:id", a.handleDeleteAccount)
	r.POST("/api/v1/accounts/:id/reset-password", a.handleResetPassword)

	r.GET("/api/v1/phones", a.handleListPhones)
	r.POST("/api/v1/phones", a.handleAddPhone)
	r.DELETE("/api/v1/phones/:id", a.handleDeletePhone)

	r.GET("/api/v1/settings", a.handleGetSettings)
	r.PUT("/api/v1/settings", a.handleSetSettings)

	r.POST("/api/v1/ambulances", a.handleRegisterAmbulance)
	r.GET("/api/v1/ambulances", a.handleRecentAmbulances)
	r.GET("/api/v1/ambulances/:id", a.handleGetAmbulance)
	r.POST("/api/v1/ambulances/:id/location", a.handleReportLocation)

	r.POST("/api/v1/sessions", a.handleOpenSession)
	r.GET("/api/v1/sessions", a.handleListSessions)
	r.GET("/api/v1/archive/sessions", a.handleArchivedSessions)
	r.GET("/api/v1/sessions/:id", a.handleGetSession)
	r.DELETE("/api/v1/sessions/:id", a.handleCloseSession)
	r.POST("/api/v1/sessions/:id/triggers", a.handleAddTrigger)
	r.GET("/api/v1/sessions/:id/triggers", a.handleListTriggers)
	r.DELETE("/api/v1/sessions/:id/self-alert", a.handleDismissSelfAlert)

	return r
}

// subject 取当前认证主体。强制改密状态的 token 只放行改密接口。
func (a *API) subject(w http.ResponseWriter, r *http.Request, allowPasswordReset bool) (string, bool) {
	ai, ok := server.AuthFromContext(r.Context())
	if !ok || ai.Subject == "" {
		a.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return "", false
	}
	if !allowPasswordReset {
		for _, role := range ai.Roles {
			if role == account.RolePasswordReset {
				a.writeJSON(w, http.StatusForbidden, errorResponse{Error: "password change required before using this endpoint"})
				return "", false
			}
		}
	}
	return ai.Subject, true
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/erp/postingengine/docs"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type registrarFunc func(rg *gin.RouterGroup)

func (f registrarFunc) RegisterRoutes(rg *gin.RouterGroup) { f(rg) }

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{Mode: gin.TestMode, MaxBodySize: 1024}, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func TestRouter_Setup(t *testing.T) {
	engine := newTestEngine(t)
	r := NewRouter(engine, WithAPIVersion("v2"))
	r.Register(registrarFunc(func(rg *gin.RouterGroup) {
		rg.GET("/whoami", func(c *gin.Context) {
			a, _ := middleware.GetActor(c)
			c.String(http.StatusOK, a.Role)
		})
	}))
	r.RegisterPublic(registrarFunc(func(rg *gin.RouterGroup) {
		rg.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	}))
	r.Setup()

	t.Run("public routes skip the actor check", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))
	})

	t.Run("api routes require an actor", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/whoami", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("api routes see the actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v2/whoami", nil)
		req.Header.Set(middleware.HeaderUserID, uuid.NewString())
		req.Header.Set(middleware.HeaderActorRole, shared.RolePlatformAdmin)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, shared.RolePlatformAdmin, w.Body.String())
	})

	t.Run("unversioned api path is not mounted", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestNewEngine_RecoversPanics(t *testing.T) {
	engine := newTestEngine(t)
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestWithAPIMiddleware(t *testing.T) {
	engine := newTestEngine(t)
	called := false
	r := NewRouter(engine, WithAPIMiddleware(func(c *gin.Context) {
		called = true
		c.Next()
	}))
	r.Register(registrarFunc(func(rg *gin.RouterGroup) {
		rg.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}))
	r.Setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(middleware.HeaderUserID, uuid.NewString())
	req.Header.Set(middleware.HeaderActorRole, shared.RolePlatformReviewer)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, called)
}

func TestWithSwagger(t *testing.T) {
	t.Run("serves the API document", func(t *testing.T) {
		engine := newTestEngine(t)
		NewRouter(engine, WithSwagger(middleware.SwaggerConfig{Enabled: true})).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "/catalog/entries/{id}/review")
		assert.Contains(t, w.Body.String(), "/documents/{id}/post")
	})

	t.Run("disabled endpoint is not found", func(t *testing.T) {
		engine := newTestEngine(t)
		NewRouter(engine, WithSwagger(middleware.SwaggerConfig{})).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("not mounted without the option", func(t *testing.T) {
		engine := newTestEngine(t)
		NewRouter(engine).Setup()

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

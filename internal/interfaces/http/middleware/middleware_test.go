package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newActorEngine(extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Actor())
	handlers := append(extra, func(c *gin.Context) {
		a, ok := GetActor(c)
		ctxActor, ctxOK := logger.ActorFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"ok":        ok && ctxOK && ctxActor.Role == a.Role,
			"role":      a.Role,
			"tenant_id": a.TenantID.String(),
		})
	})
	r.GET("/x", handlers...)
	return r
}

func doGet(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestActor(t *testing.T) {
	tenant := uuid.New()
	user := uuid.New()

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{
			name: "operator with tenant",
			headers: map[string]string{
				HeaderTenantID: tenant.String(), HeaderUserID: user.String(), HeaderActorRole: shared.RoleOperator,
			},
			status: http.StatusOK,
		},
		{
			name:    "platform reviewer without tenant",
			headers: map[string]string{HeaderUserID: user.String(), HeaderActorRole: shared.RolePlatformReviewer},
			status:  http.StatusOK,
		},
		{
			name:    "operator without tenant",
			headers: map[string]string{HeaderUserID: user.String(), HeaderActorRole: shared.RoleOperator},
			status:  http.StatusUnauthorized,
		},
		{
			name:    "missing role",
			headers: map[string]string{HeaderTenantID: tenant.String(), HeaderUserID: user.String()},
			status:  http.StatusUnauthorized,
		},
		{
			name: "system role cannot be claimed",
			headers: map[string]string{
				HeaderTenantID: tenant.String(), HeaderUserID: user.String(), HeaderActorRole: shared.RoleSystem,
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "malformed tenant",
			headers: map[string]string{
				HeaderTenantID: "tenant-1", HeaderUserID: user.String(), HeaderActorRole: shared.RoleOperator,
			},
			status: http.StatusUnauthorized,
		},
		{
			name:    "missing user",
			headers: map[string]string{HeaderTenantID: tenant.String(), HeaderActorRole: shared.RoleOperator},
			status:  http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(newActorEngine(), tt.headers)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, dto.ErrCodeUnauthorized, errorCode(t, w))
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, true, body["ok"])
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := newActorEngine(RequireRole(shared.RolePlatformAdmin, shared.RolePlatformReviewer))
	user := uuid.New().String()

	w := doGet(r, map[string]string{HeaderUserID: user, HeaderActorRole: shared.RolePlatformReviewer})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doGet(r, map[string]string{
		HeaderTenantID: uuid.New().String(), HeaderUserID: user, HeaderActorRole: shared.RoleTenantAdmin,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, dto.ErrCodeForbidden, errorCode(t, w))
}

func TestRequireRole_NoActor(t *testing.T) {
	r := gin.New()
	r.GET("/x", RequireRole(shared.RolePlatformAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := doGet(r, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(16))
	r.POST("/x", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	small := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, small)
	assert.Equal(t, http.StatusOK, w.Code)

	large := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, large)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

type lineRequest struct {
	Quantity  decimal.Decimal `json:"quantity" binding:"decimal_gt0"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"decimal_gte0"`
}

type docRequest struct {
	Kind  string        `json:"kind" binding:"required,oneof=invoice purchase_bill"`
	Lines []lineRequest `json:"lines" binding:"required,min=1,dive"`
}

func TestRegisterRules(t *testing.T) {
	v := validator.New()
	RegisterRules(v)

	ok := docRequest{Kind: "invoice", Lines: []lineRequest{{Quantity: decimal.NewFromInt(1), UnitPrice: decimal.Zero}}}
	require.NoError(t, v.Struct(ok))

	bad := docRequest{Kind: "quote", Lines: []lineRequest{{Quantity: decimal.Zero, UnitPrice: decimal.NewFromInt(-1)}}}
	err := v.Struct(bad)
	require.Error(t, err)

	details := ValidationDetails(err)
	fields := make(map[string]string, len(details))
	for _, d := range details {
		fields[d.Field] = d.Message
	}
	assert.Equal(t, "Must be one of: invoice purchase_bill", fields["kind"])
	assert.Equal(t, "Must be greater than zero", fields["lines[0].quantity"])
	assert.Equal(t, "Must not be negative", fields["lines[0].unit_price"])
}

func TestValidationDetails_NonValidationError(t *testing.T) {
	assert.Nil(t, ValidationDetails(assert.AnError))
}

func TestSetupValidator(t *testing.T) {
	require.NoError(t, SetupValidator())
}

func TestSpanActor_NoSpan(t *testing.T) {
	r := gin.New()
	r.Use(Actor(), SpanActor())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := doGet(r, map[string]string{HeaderUserID: uuid.New().String(), HeaderActorRole: shared.RolePlatformAdmin})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSwaggerProtection(t *testing.T) {
	newSwaggerEngine := func(cfg SwaggerConfig) *gin.Engine {
		r := gin.New()
		r.GET("/x", SwaggerProtection(cfg), func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	t.Run("disabled answers not found", func(t *testing.T) {
		w := doGet(newSwaggerEngine(SwaggerConfig{}), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNotFound, errorCode(t, w))
	})

	t.Run("no whitelist allows everyone", func(t *testing.T) {
		w := doGet(newSwaggerEngine(SwaggerConfig{Enabled: true}), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	// httptest requests come from 192.0.2.1
	t.Run("whitelisted network is allowed", func(t *testing.T) {
		w := doGet(newSwaggerEngine(SwaggerConfig{Enabled: true, AllowedIPs: []string{"not-an-ip", "192.0.2.0/24"}}), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("whitelisted address is allowed", func(t *testing.T) {
		w := doGet(newSwaggerEngine(SwaggerConfig{Enabled: true, AllowedIPs: []string{"192.0.2.1"}}), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other clients are forbidden", func(t *testing.T) {
		w := doGet(newSwaggerEngine(SwaggerConfig{Enabled: true, AllowedIPs: []string{"10.0.0.0/8"}}), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, dto.ErrCodeForbidden, errorCode(t, w))
	})
}

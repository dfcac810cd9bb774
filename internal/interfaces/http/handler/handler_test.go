package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auditapp "github.com/erp/postingengine/internal/application/audit"
	"github.com/erp/postingengine/internal/application/governance"
	"github.com/erp/postingengine/internal/application/posting"
	validationapp "github.com/erp/postingengine/internal/application/validation"
	"github.com/erp/postingengine/internal/domain/catalog"
	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/erp/postingengine/internal/domain/trade"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/interfaces/http/dto"
	"github.com/erp/postingengine/internal/interfaces/http/handler"
	"github.com/erp/postingengine/internal/interfaces/http/middleware"
	"github.com/erp/postingengine/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.SetupValidator(); err != nil {
		panic(err)
	}
}

type harness struct {
	store  *testutil.MemStore
	engine *gin.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testutil.NewMemStore()
	nop := zap.NewNop()

	validator := validationapp.NewService(store.CatalogEntries(), store.ClassificationCodes())
	gov := governance.NewService(store.CatalogEntries(), store.ClassificationCodes(), store.AuditEntries(), store.GovernanceScope(), nop)
	poster := posting.NewService(store.Documents(), store.StockRows(), store.AuditEntries(), validator, store.PostingScope(), nop)
	docs := posting.NewDocumentService(store.Documents(), store.StockRows(), validator, nop)
	auditSvc := auditapp.NewService(store.AuditEntries(), nop)

	engine := gin.New()
	engine.Use(logger.GinMiddleware(nop))
	api := engine.Group("/api/v1", middleware.Actor())
	handler.NewCatalogHandler(gov).RegisterRoutes(api)
	handler.NewDocumentHandler(docs, poster, validator, handler.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}).RegisterRoutes(api)
	handler.NewAuditHandler(auditSvc).RegisterRoutes(api)

	return &harness{store: store, engine: engine}
}

func operatorHeaders() map[string]string {
	return testutil.ActorHeaders(testutil.OperatorActor())
}

func reviewerHeaders() map[string]string {
	return testutil.ActorHeaders(testutil.ReviewerActor())
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoJSON(t, h.engine, method, path, body, headers)
}

// decode unmarshals the envelope and its data into data
func decode(t *testing.T, w *httptest.ResponseRecorder, data any) dto.Response {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *dto.ErrorInfo  `json:"error"`
		Meta    *dto.Meta       `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return dto.Response{Success: raw.Success, Error: raw.Error, Meta: raw.Meta}
}

func lineBody(productID uuid.UUID, quantity, price string) map[string]any {
	return map[string]any{"catalog_entry_id": productID.String(), "quantity": quantity, "unit_price": price}
}

func (h *harness) createInvoice(t *testing.T, lines ...map[string]any) posting.DocumentResponse {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/documents", map[string]any{
		"kind": "invoice", "number": "INV-1", "lines": lines,
	}, operatorHeaders())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc posting.DocumentResponse
	decode(t, w, &doc)
	return doc
}

func TestCatalogHandler_SubmitAndReview(t *testing.T) {
	h := newHarness(t)
	h.store.PutCode("VAT-STD", "0.17", true)

	w := h.do(t, http.MethodPost, "/api/v1/catalog/entries", map[string]any{"display_name": "Steel Bolt M8"}, operatorHeaders())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first governance.SubmitResult
	decode(t, w, &first)
	assert.True(t, first.Created)
	assert.Equal(t, "pending", first.Entry.Status)

	// an equivalent name resolves to the same entry
	w = h.do(t, http.MethodPost, "/api/v1/catalog/entries", map[string]any{"display_name": "  steel BOLT m8 "}, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	var second governance.SubmitResult
	decode(t, w, &second)
	assert.False(t, second.Created)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	path := "/api/v1/catalog/entries/" + first.Entry.ID.String() + "/review"
	w = h.do(t, http.MethodPost, path, map[string]any{"decision": "approve", "classification_code": "VAT-STD"}, operatorHeaders())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, path, map[string]any{"decision": "approve", "classification_code": "VAT-STD"}, reviewerHeaders())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reviewed governance.CatalogEntryResponse
	decode(t, w, &reviewed)
	assert.Equal(t, "approved", reviewed.Status)
	require.NotNil(t, reviewed.ClassificationCode)
	assert.Equal(t, "VAT-STD", *reviewed.ClassificationCode)

	w = h.do(t, http.MethodPost, path, map[string]any{"decision": "reject", "rejection_reason": "dup"}, reviewerHeaders())
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.ErrCodeInvalidTransition, resp.Error.Code)
}

func TestCatalogHandler_SubmitValidation(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/catalog/entries", map[string]any{}, operatorHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
}

func TestCatalogHandler_ListAndGet(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"Alpha", "Bravo", "Charlie"} {
		w := h.do(t, http.MethodPost, "/api/v1/catalog/entries", map[string]any{"display_name": name}, operatorHeaders())
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := h.do(t, http.MethodGet, "/api/v1/catalog/entries?status=pending&page_size=2", nil, reviewerHeaders())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var items []governance.CatalogEntryResponse
	resp := decode(t, w, &items)
	assert.Len(t, items, 2)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(3), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)

	w = h.do(t, http.MethodGet, "/api/v1/catalog/entries?status=bogus", nil, reviewerHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/catalog/entries/"+items[0].ID.String(), nil, operatorHeaders())
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/catalog/entries/not-a-uuid", nil, operatorHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/catalog/entries/"+uuid.NewString(), nil, operatorHeaders())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalogHandler_ClassificationCodes(t *testing.T) {
	h := newHarness(t)
	h.store.PutCode("VAT-STD", "0.17", true)
	h.store.PutCode("VAT-OLD", "0.16", false)

	w := h.do(t, http.MethodGet, "/api/v1/classification-codes?active=true", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	var codes []governance.ClassificationCodeResponse
	decode(t, w, &codes)
	require.Len(t, codes, 1)
	assert.Equal(t, "VAT-STD", codes[0].Code)
}

func TestDocumentHandler_CreateRejectsBadLines(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/documents", map[string]any{
		"kind":  "invoice",
		"lines": []map[string]any{lineBody(uuid.New(), "0", "10")},
	}, operatorHeaders())
	require.Equal(t, http.StatusBadRequest, w.Code)

	var details []dto.ValidationDetail
	resp := decode(t, w, nil)
	raw, err := json.Marshal(resp.Error.Details)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &details))
	require.Len(t, details, 1)
	assert.Equal(t, "lines[0].quantity", details[0].Field)
}

func TestDocumentHandler_ValidateModes(t *testing.T) {
	h := newHarness(t)
	h.store.PutCode("VAT-STD", "0.17", true)
	pending, err := catalog.NewCatalogEntry("Unreviewed Widget", nil, nil, nil)
	require.NoError(t, err)
	h.store.PutEntry(pending)

	doc := h.createInvoice(t, lineBody(pending.ID, "1", "10"))
	base := "/api/v1/documents/" + doc.ID.String() + "/validate"

	w := h.do(t, http.MethodPost, base+"?mode=draft", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	var draft struct {
		OK bool `json:"ok"`
	}
	decode(t, w, &draft)
	assert.True(t, draft.OK)

	w = h.do(t, http.MethodPost, base+"?mode=final", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	var final struct {
		OK     bool `json:"ok"`
		Errors []struct {
			LineIndex int `json:"line_index"`
			Reasons   []struct {
				Code string `json:"code"`
			} `json:"reasons"`
		} `json:"errors"`
	}
	decode(t, w, &final)
	assert.False(t, final.OK)
	require.Len(t, final.Errors, 1)
	assert.Equal(t, 0, final.Errors[0].LineIndex)

	w = h.do(t, http.MethodPost, base, nil, operatorHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_ValidateLines(t *testing.T) {
	h := newHarness(t)
	product := testutil.SeedApprovedEntry(t, h.store, "Bolt")

	w := h.do(t, http.MethodPost, "/api/v1/validate", map[string]any{
		"mode": "final",
		"lines": []map[string]any{
			{"catalog_entry_id": product.String()},
			{},
		},
	}, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		OK     bool `json:"ok"`
		Errors []struct {
			LineIndex int `json:"line_index"`
		} `json:"errors"`
	}
	decode(t, w, &result)
	assert.False(t, result.OK)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].LineIndex)
}

func TestDocumentHandler_Post(t *testing.T) {
	h := newHarness(t)
	product := testutil.SeedApprovedEntry(t, h.store, "Bolt")
	h.store.PutStock(testutil.TestTenantID(), product, "5")

	doc := h.createInvoice(t, lineBody(product, "2", "100"))
	w := h.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/post", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result posting.PostResult
	decode(t, w, &result)
	assert.Equal(t, "finalized", result.Document.State)
	assert.True(t, decimal.RequireFromString("234").Equal(result.Document.GrandTotal), result.Document.GrandTotal.String())

	w = h.do(t, http.MethodGet, "/api/v1/stock/"+product.String(), nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	var stock posting.StockResponse
	decode(t, w, &stock)
	assert.True(t, decimal.NewFromInt(3).Equal(stock.Quantity))

	w = h.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/post", nil, operatorHeaders())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDocumentHandler_PostInsufficientStock(t *testing.T) {
	h := newHarness(t)
	product := testutil.SeedApprovedEntry(t, h.store, "Bolt")
	h.store.PutStock(testutil.TestTenantID(), product, "1")

	doc := h.createInvoice(t, lineBody(product, "2", "100"))
	w := h.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/post", nil, operatorHeaders())
	require.Equal(t, http.StatusConflict, w.Code)

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Reason  string `json:"reason"`
			Details struct {
				ProductID uuid.UUID       `json:"product_id"`
				Requested decimal.Decimal `json:"requested"`
				Available decimal.Decimal `json:"available"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeInsufficientStock, resp.Error.Code)
	assert.Equal(t, shared.CodeInsufficientStock, resp.Error.Reason)
	assert.Equal(t, product, resp.Error.Details.ProductID)
	assert.True(t, decimal.NewFromInt(2).Equal(resp.Error.Details.Requested))
	assert.True(t, decimal.NewFromInt(1).Equal(resp.Error.Details.Available))
}

func TestDocumentHandler_PostValidationFailed(t *testing.T) {
	h := newHarness(t)
	pending, err := catalog.NewCatalogEntry("Unreviewed Widget", nil, nil, nil)
	require.NoError(t, err)
	h.store.PutEntry(pending)

	doc := h.createInvoice(t, lineBody(pending.ID, "1", "10"))
	w := h.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/post", nil, operatorHeaders())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.ErrCodeValidationFailed, resp.Error.Code)
	assert.NotNil(t, resp.Error.Details)
}

func TestDocumentHandler_PostRetriesLockTimeout(t *testing.T) {
	h := newHarness(t)
	product := testutil.SeedApprovedEntry(t, h.store, "Bolt")
	h.store.PutStock(testutil.TestTenantID(), product, "5")

	failures := 1
	h.store.LockHook = func(uuid.UUID) error {
		if failures > 0 {
			failures--
			return shared.ErrLockTimeout
		}
		return nil
	}

	doc := h.createInvoice(t, lineBody(product, "1", "10"))
	w := h.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/post", nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, ok := h.store.Document(doc.ID)
	require.True(t, ok)
	assert.Equal(t, trade.DocumentStateFinalized, stored.State)
}

func TestDocumentHandler_PostLockTimeoutExhausted(t *testing.T) {
	h := newHarness(t)
	product := testutil.SeedApprovedEntry(t, h.store, "Bolt")
	h.store.PutStock(testutil.TestTenantID(), product, "5")

	attempts := 0
	h.store.LockHook = func(uuid.UUID) error {
		attempts++
		return shared.ErrLockTimeout
	}

	doc := h.createInvoice(t, lineBody(product, "1", "10"))
	w := h.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/post", nil, operatorHeaders())
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, 3, attempts)

	resp := decode(t, w, nil)
	assert.Equal(t, dto.ErrCodeLockTimeout, resp.Error.Code)

	left, _ := h.store.StockQuantity(testutil.TestTenantID(), product)
	assert.True(t, decimal.NewFromInt(5).Equal(left))
}

func TestDocumentHandler_OtherTenantCannotSeeDocument(t *testing.T) {
	h := newHarness(t)
	product := testutil.SeedApprovedEntry(t, h.store, "Bolt")
	doc := h.createInvoice(t, lineBody(product, "1", "10"))

	other := operatorHeaders()
	other[middleware.HeaderTenantID] = uuid.NewString()
	w := h.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID.String(), nil, other)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditHandler_History(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/v1/catalog/entries", map[string]any{"display_name": "Hex Nut"}, operatorHeaders())
	require.Equal(t, http.StatusCreated, w.Code)
	var submitted governance.SubmitResult
	decode(t, w, &submitted)

	path := "/api/v1/audit/catalog_entry/" + submitted.Entry.ID.String()
	w = h.do(t, http.MethodGet, path, nil, operatorHeaders())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trail []auditapp.EntryResponse
	decode(t, w, &trail)
	require.Len(t, trail, 1)
	assert.Equal(t, "submitted", trail[0].Action)

	w = h.do(t, http.MethodGet, "/api/v1/audit/invoice_line/"+submitted.Entry.ID.String(), nil, operatorHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestSystemHandler_Health(t *testing.T) {
	for _, tt := range []struct {
		name   string
		cache  error
		status int
		failed []string
	}{
		{"healthy", nil, http.StatusOK, nil},
		{"redis down", errors.New("connection refused"), http.StatusServiceUnavailable, []string{"redis"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			handler.NewSystemHandler("test", map[string]handler.Pinger{
				"database": fakePinger{},
				"redis":    handler.PingFunc(func(context.Context) error { return tt.cache }),
			}).RegisterRoutes(&r.RouterGroup)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, w.Code)

			var body handler.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "test", body.Version)
			assert.Equal(t, "ok", body.Dependencies["database"])
			assert.Equal(t, tt.failed, body.Failed)
		})
	}
}

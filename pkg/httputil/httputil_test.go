package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/i18n"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestErrorLocalized_AppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(i18n.WithLocale(req.Context(), i18n.LocaleFrench))
	rec := httptest.NewRecorder()

	ErrorLocalized(rec, req, errors.NotFound("lot"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "lot introuvable", resp.Error.Message)
}

func TestError_PlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, rec).Error.Code)
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query   string
		want    Page
		wantErr bool
	}{
		{"", Page{Limit: DefaultPageSize}, false},
		{"?limit=10&offset=20", Page{Limit: 10, Offset: 20}, false},
		{"?limit=100000", Page{Limit: MaxPageSize}, false},
		{"?limit=0", Page{}, true},
		{"?offset=-1", Page{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := ParsePage(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Quantity int `json:"quantity"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"extra":true}`))
	assert.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":3}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, 3, dst.Quantity)
}

func TestValidate_UsesJSONNames(t *testing.T) {
	type body struct {
		ProductID  string `json:"product_id" validate:"required,uuid"`
		Quantity   int    `json:"quantity" validate:"gt=0"`
		ExpiryDate string `json:"expiry_date" validate:"required,date"`
		Price      string `json:"price" validate:"omitempty,decimal"`
	}

	err := Validate(body{ProductID: "nope", ExpiryDate: "2025-13-01", Price: "abc"})
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, "product_id")
	assert.Contains(t, appErr.Details, "quantity")
	assert.Contains(t, appErr.Details, "expiry_date")
	assert.Contains(t, appErr.Details, "price")

	assert.NoError(t, Validate(body{
		ProductID:  "6f1c1f8e-4a4e-4d0b-9a77-0d3c1b0f6a11",
		Quantity:   2,
		ExpiryDate: "2026-01-31",
		Price:      "12.50",
	}))
}

func TestAuthenticate(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "inaya"}
	var seen *actor.Actor
	h := Authenticate(cfg, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = actor.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/prestations", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health bypass", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := IssueToken(cfg, Claims{Email: "n@clinic.dz", FirstName: "Nadia", Role: "nurse"}, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/prestations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "nurse", seen.RoleName)
		assert.Contains(t, seen.Permissions, "prestations.*")
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := IssueToken(cfg, Claims{}, -time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/prestations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "TOKEN_EXPIRED", decode(t, rec).Error.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := IssueToken(config.JWTConfig{Secret: "other", Issuer: "inaya"}, Claims{}, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/prestations", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "TOKEN_INVALID", decode(t, rec).Error.Code)
	})
}

func TestRequireAccess(t *testing.T) {
	h := RequireAccess("stock")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(method string, a *actor.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/v1/stock/lots", nil)
		if a != nil {
			req = req.WithContext(actor.WithActor(req.Context(), a))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	reader := &actor.Actor{ID: "u1", Permissions: []string{"stock.read"}}
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, reader).Code)

	rec := serve(http.MethodPost, reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec).Error.Code)

	assert.Equal(t, http.StatusOK, serve(http.MethodPost, &actor.Actor{Permissions: []string{"*"}}).Code)
	assert.Equal(t, http.StatusForbidden, serve(http.MethodGet, nil).Code)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestLogging(t *testing.T) {
	var buf strings.Builder
	log := logger.NewWithWriter(&buf, "test", zerolog.DebugLevel)
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "inaya"}

	h := RequestID(Logger(log)(Authenticate(cfg, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestID(r.Context()))
		ErrorLocalized(w, r, errors.Conflict("lot is locked"))
	}))))

	token, err := IssueToken(cfg, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "nurse-7"}, Role: "nurse"}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/consume", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"actor_id":"nurse-7"`)
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}

package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", LocaleEnglish},
		{"fr-FR,fr;q=0.9,en;q=0.8", LocaleFrench},
		{"en-US,fr;q=0.5", LocaleEnglish},
		{"de-DE,fr;q=0.7", LocaleFrench},
		{"ar", LocaleEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header))
		})
	}
}

func TestLocalizer_T(t *testing.T) {
	params := map[string]string{"resource": "lot"}

	assert.Equal(t, "lot not found", NewLocalizer(LocaleEnglish).T("errors.not_found", params))
	assert.Equal(t, "lot introuvable", NewLocalizer(LocaleFrench).T("errors.not_found", params))
	assert.Equal(t, "errors.missing", T("errors.missing"))
}

func TestNewLocalizer_UnsupportedFallsBack(t *testing.T) {
	assert.Equal(t, DefaultLocale, NewLocalizer("de").GetLocale())
}

func TestMiddleware(t *testing.T) {
	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetLocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fr-DZ")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, LocaleFrench, got)
	assert.Equal(t, DefaultLocale, GetLocaleFromContext(context.Background()))
}

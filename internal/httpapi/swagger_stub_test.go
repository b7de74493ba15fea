//go:build !swagger

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestSwaggerUI_OffWithoutTag(t *testing.T) {
	MountSwagger(chi.NewRouter())

	h := NewMux(&mockService{}, Options{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("/swagger/ served without the swagger tag: %d", rr.Code)
	}
}

package httpserver

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func BenchmarkHandleSubmitRating(b *testing.B) {
	srv := buildTestServer(b)
	spot := mustCreateSpot(b, srv, nil)
	path := fmt.Sprintf("/spots/%s/rating", spot.ID)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		payload := []byte(fmt.Sprintf(`{"userId":"bench-%d","value":4}`, i%100))
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		srv.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}

func BenchmarkHandleGetSpot(b *testing.B) {
	srv := buildTestServer(b)
	spot := mustCreateSpot(b, srv, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spots/"+spot.ID, nil))
		if rec.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
)

func MakeAuthRequest(router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	return do(router, method, path, body, func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	})
}

func MakePartnerRequest(router http.Handler, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	return do(router, method, path, body, func(r *http.Request) {
		if apiKey != "" {
			r.Header.Set("X-API-Key", apiKey)
		}
	})
}

func MakeAPIRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	return MakeAuthRequest(router, method, path, body, "")
}

func do(router http.Handler, method, path string, body any, decorate func(*http.Request)) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	decorate(req)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

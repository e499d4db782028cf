package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Client", GetClientID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIToken(t *testing.T) {
	h := APIToken("s3cret")(okHandler())
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		url    string
		status int
	}{
		{"missing", func(*http.Request) {}, "/api/x", http.StatusUnauthorized},
		{"wrong", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/api/x", http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, "/api/x", http.StatusNoContent},
		{"query for websocket", func(*http.Request) {}, "/api/x/ws?token=s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			tt.setup(r)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, r)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestAPITokenSetsClientID(t *testing.T) {
	h := APIToken("")(okHandler())
	r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.Header.Set("X-Device-Id", "tablet-7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "tablet-7", rr.Header().Get("X-Client"))
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("metrics-key")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	r.Header.Set("X-Internal-Token", "metrics-key")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	r = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	h := APIToken("")(RateLimit(1, 2)(okHandler()))
	do := func(device string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		r.Header.Set("X-Device-Id", device)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		return rr.Code
	}
	assert.Equal(t, http.StatusNoContent, do("a"))
	assert.Equal(t, http.StatusNoContent, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusNoContent, do("b"), "limits are per client")
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(RequestLog(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestInternalOnlyAddresses(t *testing.T) {
	h := InternalOnly("")(okHandler())
	tests := []struct {
		remote string
		status int
	}{
		{"127.0.0.1:9100", http.StatusNoContent},
		{"[::1]:9100", http.StatusNoContent},
		{"[::ffff:192.168.1.4]:9100", http.StatusNoContent},
		{"fd00::7", http.StatusNoContent},
		{"198.51.100.1:9100", http.StatusForbidden},
		{"not-an-ip", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			r.RemoteAddr = tt.remote
			// пустой secret не открывает доступ по пустому заголовку
			r.Header.Set("X-Internal-Token", "")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, r)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestRecoverJSONKeepsWrittenResponse(t *testing.T) {
	h := RecoverJSON(RequestLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("late")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "partial", rr.Body.String())
}

func TestRecoverJSONRepanicsAbort(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	})
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"
)

const internalTokenHeader = "X-Internal-Token"

// InternalOnly пропускает к служебным ручкам (/metrics) только scrape из своей сети
// (loopback, RFC 1918, fc00::/7) или запрос с X-Internal-Token == secret.
// Адрес берётся из RemoteAddr: заголовки прокси уже разобраны chi RealIP выше по цепочке.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenOK := len(want) > 0 &&
				subtle.ConstantTimeCompare([]byte(r.Header.Get(internalTokenHeader)), want) == 1
			if !tokenOK && !internalAddr(remoteAddr(r)) {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteAddr разбирает RemoteAddr как "host:port" или голый адрес. Невалидный: нулевой Addr.
func remoteAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if a, err := netip.ParseAddr(strings.Trim(r.RemoteAddr, "[]")); err == nil {
		return a.Unmap()
	}
	return netip.Addr{}
}

func internalAddr(a netip.Addr) bool {
	return a.IsValid() && (a.IsLoopback() || a.IsPrivate())
}

// clientIP: ключ клиента для лимитов, когда нет X-Device-Id.
func clientIP(r *http.Request) string {
	if a := remoteAddr(r); a.IsValid() {
		return a.String()
	}
	return r.RemoteAddr
}

package middleware

import "net/http"

// SecurityHeaders sets the response headers every API answer carries.
// The API only serves JSON and uploaded images, so nothing may be framed
// and content types are never sniffed by the browser.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

package tenant

import "net/http"

const DefaultHeader = "Tenant"

// Middleware copies the tenant id from the request header into the request
// context. Requests without the header pass through unscoped; the statement
// pipeline rejects them when tenancy is enabled.
func Middleware(next http.Handler, header string) http.Handler {
	if header == "" {
		header = DefaultHeader
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(header); id != "" {
			r = r.WithContext(WithTenant(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

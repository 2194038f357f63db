package http

import (
	"mime"
	"net/http"

	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/httputil"
	"github.com/ruhaverse/shareuptime-social-platform-sub001/pkg/logger"
)

// hasJSONBody reports whether the request body may be read as JSON: the
// Content-Type is either absent or application/json.
func hasJSONBody(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}

// ContentTypeJSON rejects request bodies declared as anything other than
// JSON. A missing Content-Type is accepted so that bare curl calls work.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasJSONBody(r) {
			httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:      "UNSUPPORTED_MEDIA_TYPE",
					Message:   "Content-Type must be application/json",
					RequestID: logger.CorrelationIDFromContext(r.Context()),
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

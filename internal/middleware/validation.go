package middleware

import (
	"mime"
	"net/http"

	apperrors "licensegate/internal/errors"
)

// DefaultMaxBodyBytes bounds RPC request bodies
const DefaultMaxBodyBytes int64 = 64 << 10

// RejectFunc is told about every request a middleware refuses, before the
// error response is written. A nil RejectFunc is skipped.
type RejectFunc func(r *http.Request, err error)

func (f RejectFunc) reject(r *http.Request, err error) {
	if f != nil {
		f(r, err)
	}
}

// RequireJSON rejects request bodies that are not JSON and caps their size.
// Requests without a body pass through.
func RequireJSON(maxBytes int64, errHandler *apperrors.ErrorHandler, onReject RejectFunc) func(next http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete:
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > maxBytes {
				err := apperrors.NewWithDetails(
					http.StatusRequestEntityTooLarge,
					"PAYLOAD_TOO_LARGE",
					"Request body exceeds maximum allowed size",
					map[string]interface{}{"max_size": maxBytes, "size": r.ContentLength},
				)
				onReject.reject(r, err)
				errHandler.HandleError(w, r, err)
				return
			}

			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				err := apperrors.NewWithDetails(
					http.StatusUnsupportedMediaType,
					"UNSUPPORTED_MEDIA_TYPE",
					"Content-Type must be application/json",
					map[string]interface{}{"content_type": r.Header.Get("Content-Type")},
				)
				onReject.reject(r, err)
				errHandler.HandleError(w, r, err)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

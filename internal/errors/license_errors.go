package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"licensegate/pkg/contracts/domain"
)

// License taxonomy (sentinel errors, matched with errors.Is)
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrDeviceQuotaExceeded  = errors.New("device quota exceeded")
	ErrBusinessTypeMismatch = errors.New("business type mismatch")
	ErrLicenseBlocked       = errors.New("license blocked")
	ErrLicenseSuspended     = errors.New("license suspended")
	ErrLicenseExpired       = errors.New("license expired")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrKeyCollision         = errors.New("license key collision")

	// Client-only
	ErrTamperedCache = errors.New("license cache signature mismatch")
	ErrStaleCache    = errors.New("license cache is stale, reconnect required")
	ErrNoCache       = errors.New("no cached license, online activation required")
	ErrModuleDenied  = errors.New("module not enabled by license")
)

// ForReason returns the taxonomy error for a denial reason, or nil for ReasonNone.
func ForReason(reason domain.Reason) error {
	switch reason {
	case domain.ReasonNone:
		return nil
	case domain.ReasonNotFound, domain.ReasonDeviceMismatch:
		return ErrNotFound
	case domain.ReasonBlocked, domain.ReasonDeviceRevoked:
		return ErrLicenseBlocked
	case domain.ReasonSuspended:
		return ErrLicenseSuspended
	case domain.ReasonExpired:
		return ErrLicenseExpired
	case domain.ReasonMismatch:
		return ErrBusinessTypeMismatch
	case domain.ReasonQuotaExceeded:
		return ErrDeviceQuotaExceeded
	}
	return ErrPermissionDenied
}

// DenialError carries a denial reason through an error chain.
type DenialError struct {
	Reason domain.Reason
}

func (e *DenialError) Error() string {
	if err := ForReason(e.Reason); err != nil {
		return err.Error()
	}
	return "denied"
}

// Unwrap exposes the taxonomy error for the reason.
func (e *DenialError) Unwrap() error {
	return ForReason(e.Reason)
}

// Denied wraps a denial reason as an error.
func Denied(reason domain.Reason) error {
	return &DenialError{Reason: reason}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions next to the standard fields
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// UnmarshalJSON collects unknown members into Extensions
func (pd *ProblemDetails) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pd.Extensions = make(map[string]interface{})
	for k, v := range raw {
		var err error
		switch k {
		case "type":
			err = json.Unmarshal(v, &pd.Type)
		case "title":
			err = json.Unmarshal(v, &pd.Title)
		case "status":
			err = json.Unmarshal(v, &pd.Status)
		case "detail":
			err = json.Unmarshal(v, &pd.Detail)
		case "instance":
			err = json.Unmarshal(v, &pd.Instance)
		default:
			var ext interface{}
			err = json.Unmarshal(v, &ext)
			pd.Extensions[k] = ext
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// Extension returns an extension member as a string, or "" when absent.
func (pd *ProblemDetails) Extension(key string) string {
	if v, ok := pd.Extensions[key].(string); ok {
		return v
	}
	return ""
}

package api

// RPC routes, relative to the server base URL
const (
	RouteActivate      = "/api/v1/licenses/activate"
	RouteValidate      = "/api/v1/licenses/validate"
	RouteAdminLicenses = "/api/v1/admin/licenses"
	RouteAdminStatus   = "/api/v1/admin/licenses/status"
	RouteAdminRevoke   = "/api/v1/admin/devices/revoke"
	RouteHealth        = "/api/health"
	RouteMetrics       = "/metrics"
)

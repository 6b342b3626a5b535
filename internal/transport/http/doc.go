// Package http implements the RPC surface of the license server.
// Handlers are a thin layer between HTTP and the license service: they decode
// the request, attach the caller's actor and render the result.
//
// # Endpoints
//
//	POST /api/v1/licenses/activate          bind a device (device)
//	POST /api/v1/licenses/validate          heartbeat (device)
//	POST /api/v1/admin/licenses             issue a license (operator)
//	GET  /api/v1/admin/licenses             list licenses (operator)
//	GET  /api/v1/admin/licenses/{key}       inspect a license (operator)
//	POST /api/v1/admin/licenses/status      place or lift a hold (operator)
//	POST /api/v1/admin/devices/revoke       unbind a device (operator)
//	GET  /api/health                        readiness
//	GET  /metrics                           Prometheus scrape
//
// # Error Handling
//
// Failures render as RFC 7807 problem details through errors.ErrorHandler.
// Activation denials carry the denial in a "reason" extension:
//
//	{
//	    "type": "/errors/license/device-quota-exceeded",
//	    "title": "Device Quota Exceeded",
//	    "status": 409,
//	    "reason": "quota_exceeded",
//	    "instance": "/api/v1/licenses/activate"
//	}
//
// Validation verdicts are not errors. The heartbeat always answers 200 and
// its status field carries the outcome.
package http

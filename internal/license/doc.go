// Package license implements the server side of the license gate: issuing
// licenses, binding devices to them and answering device heartbeats.
//
// # Components
//
//	- TokenSigner: day-scoped HMAC validation tokens
//	- Transition, CheckActivation, CanValidate: the license lifecycle rules
//	- Service.CreateLicense, UpdateStatus, Inspect: the license registry
//	- Service.BindDevice, TouchLastSeen, RevokeDevice: device binding
//	- Service.Activate, Validate: the heartbeat path
//	- JWSSnapshotSigner / JWSSnapshotVerifier: the signature a device stores
//	  next to its cached verdict
//
// # Lifecycle
//
//	inactive --first bind--> active --expiry observed--> expired
//	any --admin--> blocked | suspended --admin--> active | inactive
//
// blocked and suspended override every other check. expired is written lazily
// by the first Validate that sees an active license past its expiry date.
//
// # Device quota
//
// BindDevice reads the devices of a license, counts the active ones and
// inserts the new binding inside the caller's transaction. The store runs
// write transactions one at a time, so two concurrent binds against the last
// free slot yield exactly one binding and one errors.ErrDeviceQuotaExceeded.
//
// # Results, not errors
//
// Activate and Validate return tagged results for every business outcome.
// The error return carries only invalid input (errors.ErrValidation) and
// infrastructure faults. Every call writes exactly one audit event.
package license

package domain

import "strings"

// ActorKind classifies who made a call
type ActorKind string

const (
	ActorUser      ActorKind = "user"
	ActorDevice    ActorKind = "device"
	ActorAnonymous ActorKind = "anonymous"
)

// Actor is the identity attached to an operation for authorization and audit.
type Actor struct {
	Kind    ActorKind `json:"kind"`
	Subject string    `json:"subject,omitempty"`
	Role    string    `json:"role,omitempty"`
	// Tenant is the customer scope an admin may act on; "*" means every tenant.
	Tenant     string `json:"tenant,omitempty"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

// Ref renders the actor for the audit trail, e.g. "user:alice@10.0.0.4".
func (a Actor) Ref() string {
	var b strings.Builder
	kind := a.Kind
	if kind == "" {
		kind = ActorAnonymous
	}
	b.WriteString(string(kind))
	if a.Subject != "" {
		b.WriteString(":")
		b.WriteString(a.Subject)
	}
	if a.RemoteAddr != "" {
		b.WriteString("@")
		b.WriteString(a.RemoteAddr)
	}
	return b.String()
}

// Authenticated reports whether the actor carries a verified identity
func (a Actor) Authenticated() bool {
	return a.Kind == ActorUser && a.Subject != ""
}

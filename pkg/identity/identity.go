// Package identity provides entity and credential storage implementing the
// engine's IdentityResolver and CredentialStore collaborator interfaces,
// with an in-memory backend for development and a PostgreSQL backend for
// production.
package identity

// Entity is one account known to the identity store.
type Entity struct {
	ID      int64
	Subject string
	Label   string
	Enabled bool

	// Attributes are root-group attribute values, keyed by attribute name.
	Attributes map[string][]string
	Groups     []string
}

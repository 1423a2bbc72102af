// Package authn defines the core authentication vocabulary shared by the
// whole engine: the authentication result sum type, the authenticated
// entity, the credential verificator and retrieval contracts, and the
// collaborator interfaces the engine consumes but does not implement
// (identity resolution, credential storage, expression evaluation).
//
// The package contains no I/O of its own. All state mutation happens in the
// session manager, the attempt counter and the external token store.
package authn

// Package authenticator turns declarative authenticator definitions into
// live instances: a configured pairing of a credential retrieval and a
// credential verificator, resolved against a registry of known types built
// at startup.
package authenticator

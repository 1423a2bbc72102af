package authenticator

import (
	"fmt"
	"sync"

	"github.com/tenvia/idp-core/pkg/authn"
)

// Definition is the declarative description of an authenticator, as stored
// by the management layer.
type Definition struct {
	ID            string
	Type          string
	Configuration string

	// LocalCredentialName binds the authenticator to a local credential. Set
	// only for local authenticator types.
	LocalCredentialName string
}

// Metadata is the public view of a configured authenticator. For a local
// authenticator the verificator configuration is derived from the bound
// credential and is never part of this view, only the retrieval
// configuration is.
type Metadata struct {
	ID                       string
	Type                     string
	RetrievalConfiguration   string
	VerificatorConfiguration string
	LocalCredentialName      string
	Revision                 int64
}

// IsLocal tells whether the authenticator verifies a locally stored
// credential.
func (m Metadata) IsLocal() bool {
	return m.LocalCredentialName != ""
}

// Instance is a live authenticator: one retrieval feeding one verificator
// under a configured name. Instances are shared by flows and by the
// management layer, so reconfiguration is serialized and observable through
// the revision.
type Instance struct {
	mu          sync.Mutex
	meta        Metadata
	retrieval   authn.CredentialRetrieval
	verificator authn.CredentialVerificator
}

// ID returns the configured authenticator id.
func (a *Instance) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta.ID
}

// Metadata returns a snapshot of the public authenticator view.
func (a *Instance) Metadata() Metadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta
}

// Revision returns the current configuration revision. Consumers caching
// derived state compare revisions, never configuration contents.
func (a *Instance) Revision() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta.Revision
}

// Binding returns the access channel served by the retrieval.
func (a *Instance) Binding() string {
	return a.retrieval.Binding()
}

// Retrieval returns the credential retrieval of this authenticator.
func (a *Instance) Retrieval() authn.CredentialRetrieval {
	return a.retrieval
}

// Verificator returns the credential verificator of this authenticator.
func (a *Instance) Verificator() authn.CredentialVerificator {
	return a.verificator
}

// LocalVerificator returns the verificator as a local one, or nil when the
// authenticator is not local.
func (a *Instance) LocalVerificator() authn.LocalCredentialVerificator {
	lv, ok := a.verificator.(authn.LocalCredentialVerificator)
	if !ok {
		return nil
	}
	return lv
}

// UpdateConfiguration reconfigures the retrieval and, for non-local
// authenticators, the verificator. A local authenticator derives its
// verificator configuration from the bound credential, so verificatorConfig
// is ignored for it and localCredentialName selects the credential instead.
// Every successful update bumps the revision.
func (a *Instance) UpdateConfiguration(retrievalConfig, verificatorConfig, localCredentialName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.retrieval.UpdateConfiguration(retrievalConfig); err != nil {
		return fmt.Errorf("updating retrieval configuration of %s: %w", a.meta.ID, err)
	}

	if lv := a.localVerificatorLocked(); lv != nil {
		if localCredentialName != "" {
			lv.SetCredentialName(localCredentialName)
			a.meta.LocalCredentialName = localCredentialName
		}
	} else if err := a.verificator.UpdateConfiguration(verificatorConfig); err != nil {
		return fmt.Errorf("updating verificator configuration of %s: %w", a.meta.ID, err)
	}

	a.meta.RetrievalConfiguration = retrievalConfig
	if a.localVerificatorLocked() == nil {
		a.meta.VerificatorConfiguration = verificatorConfig
	}
	a.meta.Revision++
	return nil
}

func (a *Instance) localVerificatorLocked() authn.LocalCredentialVerificator {
	lv, ok := a.verificator.(authn.LocalCredentialVerificator)
	if !ok {
		return nil
	}
	return lv
}

package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tenvia/idp-core/pkg/token"
)

// The session wire format is stable: live sessions survive rolling upgrades,
// so field names and types here must not change. The token envelope carries
// id, started, expires and entityId; everything else travels in the payload.

type wireAuthNInfo struct {
	OptionID string `json:"optionId"`
	Time     int64  `json:"time"` // unix millis
}

type wireRememberMeInfo struct {
	FirstFactorSkipped  bool `json:"firstFactorSkipped"`
	SecondFactorSkipped bool `json:"secondFactorSkipped"`
}

type wirePayload struct {
	Realm                   string              `json:"realm"`
	MaxInactivity           int64               `json:"maxInactivity"` // millis
	LastUsed                int64               `json:"lastUsed"`      // unix millis
	EntityLabel             string              `json:"entityLabel"`
	OutdatedCredentialID    string              `json:"outdatedCredentialId,omitempty"`
	AuthenticatedIdentities []string            `json:"authenticatedIdentities,omitempty"`
	RemoteIdP               string              `json:"remoteIdP,omitempty"`
	Attributes              map[string]string   `json:"attributes,omitempty"`
	Login1stFactor          *wireAuthNInfo      `json:"login1stFactor,omitempty"`
	Login2ndFactor          *wireAuthNInfo      `json:"login2ndFactor,omitempty"`
	AdditionalAuthn         *wireAuthNInfo      `json:"additionalAuthn,omitempty"`
	RememberMeInfo          *wireRememberMeInfo `json:"rememberMeInfo,omitempty"`
}

func toWireAuthNInfo(info *AuthNInfo) *wireAuthNInfo {
	if info == nil {
		return nil
	}
	return &wireAuthNInfo{OptionID: info.OptionID, Time: info.Time.UnixMilli()}
}

func fromWireAuthNInfo(info *wireAuthNInfo) *AuthNInfo {
	if info == nil {
		return nil
	}
	return &AuthNInfo{OptionID: info.OptionID, Time: time.UnixMilli(info.Time)}
}

// Serialize encodes the session into a store token.
func Serialize(s *LoginSession) (token.Token, error) {
	payload := wirePayload{
		Realm:                   s.Realm,
		MaxInactivity:           s.MaxInactivity.Milliseconds(),
		LastUsed:                s.LastUsed.UnixMilli(),
		EntityLabel:             s.EntityLabel,
		OutdatedCredentialID:    s.OutdatedCredentialID,
		AuthenticatedIdentities: s.AuthenticatedIdentities,
		RemoteIdP:               s.RemoteIdP,
		Attributes:              s.SessionData,
		Login1stFactor:          toWireAuthNInfo(s.Login1stFactor),
		Login2ndFactor:          toWireAuthNInfo(s.Login2ndFactor),
		AdditionalAuthn:         toWireAuthNInfo(s.AdditionalAuthn),
	}
	if s.RememberMe != (RememberMeInfo{}) {
		payload.RememberMeInfo = &wireRememberMeInfo{
			FirstFactorSkipped:  s.RememberMe.FirstFactorSkipped,
			SecondFactorSkipped: s.RememberMe.SecondFactorSkipped,
		}
	}

	contents, err := json.Marshal(payload)
	if err != nil {
		return token.Token{}, fmt.Errorf("serializing session %s: %w", s.ID, err)
	}
	return token.Token{
		Type:     token.TypeSession,
		ID:       s.ID,
		Owner:    s.EntityID,
		Contents: contents,
		Created:  s.Started,
		Expires:  s.Expires,
	}, nil
}

// Deserialize decodes a store token back into a session.
func Deserialize(t token.Token) (*LoginSession, error) {
	var payload wirePayload
	if err := json.Unmarshal(t.Contents, &payload); err != nil {
		return nil, fmt.Errorf("parsing session token %s: %w", t.ID, err)
	}

	s := &LoginSession{
		ID:                      t.ID,
		Started:                 t.Created,
		Expires:                 t.Expires,
		LastUsed:                time.UnixMilli(payload.LastUsed),
		MaxInactivity:           time.Duration(payload.MaxInactivity) * time.Millisecond,
		EntityID:                t.Owner,
		Realm:                   payload.Realm,
		EntityLabel:             payload.EntityLabel,
		AuthenticatedIdentities: payload.AuthenticatedIdentities,
		RemoteIdP:               payload.RemoteIdP,
		OutdatedCredentialID:    payload.OutdatedCredentialID,
		SessionData:             payload.Attributes,
		Login1stFactor:          fromWireAuthNInfo(payload.Login1stFactor),
		Login2ndFactor:          fromWireAuthNInfo(payload.Login2ndFactor),
		AdditionalAuthn:         fromWireAuthNInfo(payload.AdditionalAuthn),
	}
	if payload.RememberMeInfo != nil {
		s.RememberMe = RememberMeInfo{
			FirstFactorSkipped:  payload.RememberMeInfo.FirstFactorSkipped,
			SecondFactorSkipped: payload.RememberMeInfo.SecondFactorSkipped,
		}
	}
	if s.SessionData == nil {
		s.SessionData = make(map[string]string)
	}
	return s, nil
}

package rememberme

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// MachineDetails is the secondary binding of a remember-me token: the client
// address and a fingerprint of the browser or device that the token was
// issued to.
type MachineDetails struct {
	ClientIP    string `json:"clientIp"`
	Fingerprint string `json:"fingerprint"`
}

// Matches compares the recorded machine with the one behind the current
// request. A mismatch is a silent miss, not an attack signal: browsers get
// upgraded and addresses change.
func (m MachineDetails) Matches(current MachineDetails) bool {
	return m.ClientIP == current.ClientIP && m.Fingerprint == current.Fingerprint
}

// fingerprintData holds the request components hashed into a fingerprint.
// Mobile clients send an explicit device id and are fingerprinted by it
// alone; browsers are fingerprinted by their header profile.
type fingerprintData struct {
	userAgent     string
	acceptHeaders string
	timezone      string
	deviceID      string
}

func (d fingerprintData) hash() string {
	combined := d.deviceID
	if combined == "" {
		combined = fmt.Sprintf("%s|%s|%s", d.userAgent, d.acceptHeaders, d.timezone)
	}
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// MachineDetailsFromRequest derives the machine binding of the current
// request.
func MachineDetailsFromRequest(r *http.Request) MachineDetails {
	data := fingerprintData{
		userAgent: r.UserAgent(),
		acceptHeaders: r.Header.Get("Accept") + "|" +
			r.Header.Get("Accept-Language") + "|" +
			r.Header.Get("Accept-Encoding"),
		timezone: r.Header.Get("Timezone"),
		deviceID: r.Header.Get("X-Device-ID"),
	}
	return MachineDetails{
		ClientIP:    clientIP(r),
		Fingerprint: data.hash(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

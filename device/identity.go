// Package device derives and persists the device identity presented to the
// vendor API. The identity is deterministic per user and platform, so
// repeated runs look like the same device and do not re-trigger OTP
// authorization.
package device

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/go-securitas/securitas/internal/util"
)

// Version reported as the app build of this device.
const deviceVersion = "10.154.0"

const idDeviceLen = 64

// Identity is the set of device identifiers sent with login and device
// validation requests. JSON tags match the on-disk identity file.
type Identity struct {
	IDDevice           string `json:"idDevice"`
	UUID               string `json:"uuid"`
	IDDeviceIndigitall string `json:"idDeviceIndigitall"`
	Name               string `json:"deviceName"`
	Brand              string `json:"deviceBrand"`
	OSVersion          string `json:"deviceOsVersion"`
	Version            string `json:"deviceVersion"`
	Type               string `json:"deviceType"`
	Resolution         string `json:"deviceResolution"`
	GeneratedAt        int64  `json:"generated_time"`
}

// Generate derives the identity for user. Apart from the generation
// timestamp the derivation only depends on the user and the platform, so
// the same inputs always produce the same identifiers.
func Generate(user string) *Identity {
	system := osName()

	primary := util.SHA256Hex(fmt.Sprintf("%s_%s_%s", user, system, runtime.GOARCH))
	secondary := util.SHA256Hex(fmt.Sprintf("%s_indigitall_%s", user, system))

	return &Identity{
		IDDevice:           primary,
		UUID:               strings.ToUpper(formatUUID(primary)),
		IDDeviceIndigitall: formatUUID(secondary),
		Name:               "HomeAssistant-" + system,
		Brand:              "HomeAssistant",
		OSVersion:          system + " " + runtime.GOARCH,
		Version:            deviceVersion,
		GeneratedAt:        time.Now().Unix(),
	}
}

// LoginVariables returns the device and session portion of the login
// mutation variables. The caller adds user and password.
func (id *Identity) LoginVariables(sessionID, country, callby, lang string) map[string]any {
	return map[string]any{
		"id":                 sessionID,
		"country":            country,
		"callby":             callby,
		"lang":               lang,
		"idDevice":           id.IDDevice,
		"idDeviceIndigitall": id.IDDeviceIndigitall,
		"deviceType":         id.Type,
		"deviceVersion":      id.Version,
		"deviceResolution":   id.Resolution,
		"uuid":               id.UUID,
		"deviceName":         id.Name,
		"deviceBrand":        id.Brand,
		"deviceOsVersion":    id.OSVersion,
	}
}

// ValidationVariables returns the variables for the device validation
// mutation.
func (id *Identity) ValidationVariables() map[string]any {
	return map[string]any{
		"idDevice":           id.IDDevice,
		"idDeviceIndigitall": id.IDDeviceIndigitall,
		"uuid":               id.UUID,
		"deviceName":         id.Name,
		"deviceBrand":        id.Brand,
		"deviceOsVersion":    id.OSVersion,
		"deviceVersion":      id.Version,
	}
}

// valid reports whether a stored identity can be reused. Anything that
// fails validation is regenerated.
func (id *Identity) valid() bool {
	if len(id.IDDevice) != idDeviceLen {
		return false
	}
	if uuid.Validate(id.UUID) != nil {
		return false
	}
	if uuid.Validate(id.IDDeviceIndigitall) != nil {
		return false
	}
	return true
}

// formatUUID renders the first 32 hex chars of s in 8-4-4-4-12 form.
func formatUUID(s string) string {
	return s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

// osName maps runtime.GOOS onto the platform spellings the vendor sees
// from other clients.
func osName() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	default:
		return strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
	}
}

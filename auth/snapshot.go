package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-securitas/securitas/device"
	"github.com/go-securitas/securitas/internal/storage"
)

// Snapshot is the on-disk form of a session: the hash token, the session
// metadata from the last login, the transport cookies and the device
// identity that earned the authorization.
type Snapshot struct {
	User              string            `json:"user"`
	Hash              string            `json:"hash"`
	SessionData       map[string]any    `json:"session_data"`
	Cookies           map[string]string `json:"cookies,omitempty"`
	DeviceIdentifiers *device.Identity  `json:"device_identifiers,omitempty"`
	SavedTime         int64             `json:"saved_time"`
}

// SnapshotPath returns the session file for user under dir. An empty dir
// selects the default storage directory.
func SnapshotPath(dir, user string) string {
	if dir == "" {
		dir = storage.DefaultDir()
	}
	return filepath.Join(dir, "securitas_session_"+user+".json")
}

// Snapshot captures the live session for persistence.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sd := map[string]any{
		"user":                    s.user,
		"lang":                    s.client.Lang(),
		"legals":                  s.lastLogin.Legals,
		"changePassword":          s.lastLogin.ChangePassword,
		"needDeviceAuthorization": s.lastLogin.NeedDeviceAuthorization,
	}
	if !s.token.IssuedAt.IsZero() {
		sd["login_time"] = s.token.IssuedAt.Unix()
	}
	if s.token.Hash != "" {
		sd["hash"] = s.token.Hash
	}
	if s.refresh != "" {
		sd["refreshToken"] = s.refresh
	}

	return &Snapshot{
		User:              s.user,
		Hash:              s.token.Hash,
		SessionData:       sd,
		Cookies:           s.client.Cookies(),
		DeviceIdentifiers: s.device.Ensure(),
		SavedTime:         time.Now().Unix(),
	}
}

// RestoreSnapshot applies a stored snapshot. Snapshots older than the
// vendor's session window are rejected with ErrSessionExpired and the
// caller falls back to a fresh login.
func (s *Session) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil || snap.Hash == "" {
		return fmt.Errorf("%w: no token in snapshot", ErrSessionExpired)
	}

	now := time.Now()
	tok := Token{Hash: snap.Hash, IssuedAt: snap.issuedAt()}
	if !tok.Valid(now) {
		return fmt.Errorf("%w: age %s", ErrSessionExpired, tok.Age(now).Round(time.Second))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.client.SetUser(s.user)
	s.client.SetHash(tok.Hash)
	if lang, ok := snap.SessionData["lang"].(string); ok {
		s.client.SetLang(lang)
	}
	if rt, ok := snap.SessionData["refreshToken"].(string); ok {
		s.refresh = rt
	}
	s.client.SetCookies(snap.Cookies)
	s.state = StateAuthenticated
	s.logger.Printf("auth: session restored for %s (age %s)", s.user, tok.Age(now).Round(time.Second))
	return nil
}

// issuedAt recovers the login time of the snapshot. Older files may lack
// login_time, in which case the save time is close enough.
func (sn *Snapshot) issuedAt() time.Time {
	if v, ok := sn.SessionData["login_time"]; ok {
		switch t := v.(type) {
		case float64:
			return time.Unix(int64(t), 0)
		case int64:
			return time.Unix(t, 0)
		case int:
			return time.Unix(int64(t), 0)
		}
	}
	return time.Unix(sn.SavedTime, 0)
}

// SaveSnapshot writes snap to path atomically.
func SaveSnapshot(path string, snap *Snapshot) error {
	if err := storage.WriteJSON(path, snap); err != nil {
		return fmt.Errorf("auth: save session: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from path. A missing file surfaces as
// os.ErrNotExist so callers can treat it as "no stored session".
func LoadSnapshot(path string) (*Snapshot, error) {
	var snap Snapshot
	if err := storage.ReadJSON(path, &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	return &snap, nil
}

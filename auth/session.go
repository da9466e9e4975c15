/*
Package auth implements cookie-based session authentication.

PURPOSE:
  Stateless signed sessions: the cookie carries a base64url payload plus an
  HMAC-SHA256 signature over it. No server-side session table; validity is
  the signature plus the user still being present in the configured user set.

TOKEN FORMAT:
  base64url(JSON{user, iat}) + "." + base64url(HMAC-SHA256(payload))

SEE ALSO:
  - api/handlers.go: login/logout/me endpoints
*/
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	// CookieName is the session cookie set on login.
	CookieName = "saldo_session"

	// RememberDuration is applied when the client asks to stay signed in.
	RememberDuration = 30 * 24 * time.Hour
)

// Session identifies an authenticated caller.
type Session struct {
	User string `json:"user"`
	IAT  int64  `json:"iat"`
}

// Manager signs and verifies session tokens against a static user set.
type Manager struct {
	secret []byte
	users  map[string]string
}

// NewManager builds a Manager. users maps username to password.
func NewManager(secret string, users map[string]string) *Manager {
	return &Manager{secret: []byte(secret), users: users}
}

// ValidateLogin checks a username/password pair.
func (m *Manager) ValidateLogin(user, pass string) bool {
	expected, ok := m.users[user]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1
}

// MakeToken issues a signed token for the given user.
func (m *Manager) MakeToken(user string) string {
	payload, _ := json.Marshal(Session{User: user, IAT: time.Now().UnixMilli()})
	p := base64.RawURLEncoding.EncodeToString(payload)
	return p + "." + m.sign(p)
}

// ReadSession extracts and verifies the session from the request cookie.
// Returns nil when there is no valid session.
func (m *Manager) ReadSession(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	parts := strings.Split(c.Value, ".")
	if len(parts) != 2 {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(m.sign(parts[0])), []byte(parts[1])) != 1 {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.User == "" {
		return nil
	}
	if _, ok := m.users[sess.User]; !ok {
		return nil
	}
	return &sess
}

// SetSessionCookie writes the session cookie. When remember is true the
// cookie persists for RememberDuration; otherwise it is a session cookie.
func SetSessionCookie(w http.ResponseWriter, token string, remember bool) {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
	}
	if remember {
		c.MaxAge = int(RememberDuration.Seconds())
	}
	http.SetCookie(w, c)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
		MaxAge:   -1,
	})
}

func (m *Manager) sign(data string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

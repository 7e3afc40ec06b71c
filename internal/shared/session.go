package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionManager keeps login sessions in Redis behind a signed cookie.
// Anonymous sessions are never persisted.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
	now        func() time.Time
}

// Session is the per-request view of a stored session.
type Session struct {
	ID              string
	userID          string
	authenticatedAt time.Time
	retiredID       string
	stored          bool
	dirty           bool
	destroyed       bool
}

type sessionPayload struct {
	UserID          string    `json:"user_id"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// NewSessionManager constructs a SessionManager. secret signs cookie values.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
		now:        time.Now,
	}
}

// Load returns the stored session named by the request cookie, or a fresh
// anonymous one when the cookie is absent, forged or expired.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return sm.newSession(), nil
	}
	id, ok := sm.verify(cookie.Value)
	if !ok {
		return sm.newSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sm.newSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &Session{
		ID:              id,
		userID:          stored.UserID,
		authenticatedAt: stored.AuthenticatedAt,
		stored:          true,
	}, nil
}

// Commit persists the session and refreshes its cookie. Stored sessions get a
// sliding expiry on every request.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, _ *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.retiredID != "" {
		if err := sm.client.Del(ctx, sm.redisKey(sess.retiredID)).Err(); err != nil {
			return fmt.Errorf("session: retire: %w", err)
		}
		sess.retiredID = ""
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil {
			return fmt.Errorf("session: destroy: %w", err)
		}
		sm.writeCookie(w, "", -1)
		return nil
	}

	switch {
	case sess.dirty && sess.userID != "":
		data, err := json.Marshal(sessionPayload{UserID: sess.userID, AuthenticatedAt: sess.authenticatedAt})
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
			return fmt.Errorf("session: save: %w", err)
		}
		sess.dirty = false
		sess.stored = true
	case sess.stored:
		if err := sm.client.Expire(ctx, sm.redisKey(sess.ID), sm.ttl).Err(); err != nil {
			return fmt.Errorf("session: touch: %w", err)
		}
	default:
		return nil
	}

	sm.writeCookie(w, sm.sign(sess.ID), int(sm.ttl/time.Second))
	return nil
}

// Renew moves the session to a new identifier. Call it when privileges change.
func (sm *SessionManager) Renew(sess *Session) {
	if sess == nil {
		return
	}
	if sess.stored {
		sess.retiredID = sess.ID
	}
	sess.ID = sm.generateSessionID()
	sess.stored = false
	sess.dirty = true
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// SetUser binds the session to a user and stamps the login time.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.authenticatedAt = time.Now().UTC()
	s.dirty = true
}

// User returns the bound user ID, empty for anonymous sessions.
func (s *Session) User() string {
	return s.userID
}

// AuthenticatedAt reports when SetUser was last called.
func (s *Session) AuthenticatedAt() time.Time {
	return s.authenticatedAt
}

func (sm *SessionManager) newSession() *Session {
	return &Session{ID: sm.generateSessionID()}
}

func (sm *SessionManager) writeCookie(w http.ResponseWriter, value string, maxAge int) {
	cookie := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge > 0 {
		cookie.Expires = sm.now().Add(time.Duration(maxAge) * time.Second)
	}
	http.SetCookie(w, cookie)
}

func (sm *SessionManager) redisKey(id string) string {
	return "gestionale:session:" + id
}

func (sm *SessionManager) mac(id string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (sm *SessionManager) sign(id string) string {
	return id + "." + sm.mac(id)
}

func (sm *SessionManager) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	return id, hmac.Equal([]byte(sig), []byte(sm.mac(id)))
}

func (sm *SessionManager) generateSessionID() string {
	return rand.Text()
}

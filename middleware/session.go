package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-web/types"
)

const defaultSessionMaxAge = 24 * time.Hour

// SessionStage loads the session named by the signed session cookie, or
// starts a fresh one, and persists it when the request finishes.
type SessionStage struct {
	store      types.SessionStore
	signer     *CookieSigner
	cookieName string
	ttl        time.Duration
	logger     types.Logger
	now        func() time.Time
}

func NewSessionStage(store types.SessionStore, config *types.SessionConfig, signer *CookieSigner, logger types.Logger) *SessionStage {
	ttl := defaultSessionMaxAge
	if config.MaxAge > 0 {
		ttl = time.Duration(config.MaxAge) * time.Second
	}

	name := config.CookieName
	if name == "" {
		name = "sai.sid"
	}

	return &SessionStage{
		store:      store,
		signer:     signer,
		cookieName: name,
		ttl:        ttl,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *SessionStage) Name() string { return StageSession }

func (s *SessionStage) Handle(ctx *types.RequestCtx) error {
	session := s.load(ctx)
	if session == nil {
		session = types.NewSession(uuid.NewString(), s.ttl)
	}

	ctx.Session = session
	ctx.OnFinish(func() {
		s.persist(ctx, session)
	})

	return nil
}

func (s *SessionStage) load(ctx *types.RequestCtx) *types.Session {
	id := ctx.SignedCookies[s.cookieName]
	if id == "" {
		return nil
	}

	session, err := s.store.Get(ctx.Context(), id)
	if err != nil {
		if !types.IsError(err, types.ErrSessionNotFound) {
			s.logger.Warn("Failed to load session", zap.String("session_id", id), zap.Error(err))
		}
		return nil
	}

	if session.Expired(s.now()) {
		return nil
	}

	return session
}

func (s *SessionStage) persist(ctx *types.RequestCtx, session *types.Session) {
	if !session.IsDirty() {
		return
	}

	session.ExpiresAt = s.now().Add(s.ttl)

	if err := s.store.Save(ctx.Context(), session, s.ttl); err != nil {
		s.logger.Error("Failed to save session", zap.String("session_id", session.ID), zap.Error(err))
		return
	}

	cookie := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(cookie)

	cookie.SetKey(s.cookieName)
	cookie.SetValue(s.signer.Sign(session.ID))
	cookie.SetPath("/")
	cookie.SetHTTPOnly(true)
	cookie.SetMaxAge(int(s.ttl / time.Second))
	cookie.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	if ctx.IsTLS() {
		cookie.SetSecure(true)
	}

	ctx.Response.Header.SetCookie(cookie)
	session.MarkSaved()
}

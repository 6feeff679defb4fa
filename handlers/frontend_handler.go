package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/token"
	"github.com/tinyauth/tinyauth/utils"
)

// FrontendHandler serves the browser session flow: Basic-auth login that
// sets the session and CSRF cookies, and logout that clears them.
type FrontendHandler struct {
	cfg      config.TokenConfig
	issuer   *token.Issuer
	resolver *token.Resolver
	logger   *zap.Logger
}

// NewFrontendHandler creates a FrontendHandler
func NewFrontendHandler(cfg config.TokenConfig, issuer *token.Issuer, resolver *token.Resolver, logger *zap.Logger) *FrontendHandler {
	return &FrontendHandler{
		cfg:      cfg,
		issuer:   issuer,
		resolver: resolver,
		logger:   logger,
	}
}

// HandleLogin handles GET /login. A successful Basic login sets the
// HttpOnly session cookie plus a script-readable CSRF cookie and redirects
// to the index; every failure mode answers with the same Basic challenge.
func (h *FrontendHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		h.challenge(w)
		return
	}

	issued, err := h.issuer.IssueForLogin(r.Context(), username, password, token.StrategyHeaderToken)
	if err != nil {
		h.challenge(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.ExpiresAt,
		Secure:   true,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:    h.cfg.CSRFCookie,
		Value:   issued.CSRFToken,
		Path:    "/",
		Expires: issued.ExpiresAt,
		Secure:  true,
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleIndex handles GET /. Unauthenticated browsers are sent to /login;
// authenticated ones get their resolved identity back.
func (h *FrontendHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.cfg.SessionCookie)
	if err != nil || cookie.Value == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	user, _, err := h.resolver.Resolve(r.Context(), cookie.Value)
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"authenticated": true,
		"identity":      user.Subject(),
	})
}

// HandleLogout handles GET /logout: expires both cookies and redirects to
// the login page.
func (h *FrontendHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:   h.cfg.CSRFCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
		Secure: true,
	})

	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *FrontendHandler) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
	w.WriteHeader(http.StatusUnauthorized)
}

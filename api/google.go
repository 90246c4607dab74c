package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	googleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer    = "https://accounts.google.com"
	googleIssuerAlt = "accounts.google.com"

	stateCookieName = "taskboard_oauth_state"
	stateCookieTTL  = 5 * time.Minute
)

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// GoogleAuth drives the Google sign-in flow: authorization-code redirect,
// code exchange, and ID-token verification against Google's JWKS. Its output
// is a FederatedAssertion for the Verifier; it never touches storage.
type GoogleAuth struct {
	oauth    *oauth2.Config
	parser   *jwt.Parser
	keyfunc  jwt.Keyfunc
	audience string
	logger   *log.Logger
}

// NewGoogleAuth fetches Google's signing keys and prepares the OAuth2
// config. redirectURL must match the /api/auth/google/callback route as
// registered with the provider.
func NewGoogleAuth(clientID, clientSecret, redirectURL string, logger *log.Logger) (*GoogleAuth, error) {
	jwks, err := keyfunc.Get(googleJWKSURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return newGoogleAuth(clientID, clientSecret, redirectURL, jwks.Keyfunc, jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})), logger), nil
}

func newGoogleAuth(clientID, clientSecret, redirectURL string, kf jwt.Keyfunc, parser *jwt.Parser, logger *log.Logger) *GoogleAuth {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &GoogleAuth{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleEndpoint,
		},
		parser:   parser,
		keyfunc:  kf,
		audience: clientID,
		logger:   logger,
	}
}

// Begin redirects the browser to Google's consent screen with a fresh state
// nonce pinned in a short-lived cookie.
func (g *GoogleAuth) Begin(c echo.Context) error {
	state := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusTemporaryRedirect, g.oauth.AuthCodeURL(state))
}

// Exchange validates the callback request and turns its authorization code
// into a verified identity assertion.
func (g *GoogleAuth) Exchange(c echo.Context) (FederatedAssertion, error) {
	stateCookie, err := c.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != c.QueryParam("state") {
		return FederatedAssertion{}, errors.New("state mismatch")
	}
	// The nonce is single-use.
	c.SetCookie(&http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	code := c.QueryParam("code")
	if code == "" {
		return FederatedAssertion{}, errors.New("missing code")
	}

	tok, err := g.oauth.Exchange(c.Request().Context(), code)
	if err != nil {
		return FederatedAssertion{}, err
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return FederatedAssertion{}, errors.New("no id_token in token response")
	}
	return g.verifyIDToken(rawID)
}

// verifyIDToken checks the token's signature and claims and extracts the
// asserted identity.
func (g *GoogleAuth) verifyIDToken(raw string) (FederatedAssertion, error) {
	token, err := g.parser.Parse(raw, g.keyfunc)
	if err != nil {
		return FederatedAssertion{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return FederatedAssertion{}, errors.New("invalid claims")
	}

	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return FederatedAssertion{}, errors.New("token expired")
	}
	if !claims.VerifyIssuedAt(now+60, false) {
		return FederatedAssertion{}, errors.New("token used before issued")
	}
	if g.audience != "" && !claims.VerifyAudience(g.audience, true) {
		return FederatedAssertion{}, errors.New("invalid audience")
	}
	if !claims.VerifyIssuer(googleIssuer, true) && !claims.VerifyIssuer(googleIssuerAlt, true) {
		return FederatedAssertion{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return FederatedAssertion{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return FederatedAssertion{Subject: sub, Email: email, Name: name}, nil
}

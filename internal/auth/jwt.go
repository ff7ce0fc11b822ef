// Package auth issues and verifies the HS256 tokens the API trusts: session
// tokens naming an owner, and short-lived OAuth state tokens.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

const (
	issuer          = "outreach-cli"
	audienceSession = "session"
	audienceState   = "oauth_state"
)

// ErrInvalidToken wraps every parse or validation failure.
var ErrInvalidToken = eris.New("auth: invalid token")

// Resume carries pipeline inputs to submit once authorization completes.
type Resume struct {
	Target           string `json:"target"`
	CandidateProfile string `json:"candidateProfile,omitempty"`
}

// State is what an OAuth round trip must carry back to the callback.
type State struct {
	OwnerID      string  `json:"-"`
	ReturnURL    string  `json:"ret"`
	Continuation string  `json:"cont,omitempty"`
	Resume       *Resume `json:"resume,omitempty"`
}

type stateClaims struct {
	jwt.RegisteredClaims
	ReturnURL    string  `json:"ret"`
	Continuation string  `json:"cont,omitempty"`
	Resume       *Resume `json:"resume,omitempty"`
}

// JWTManager signs and verifies tokens with a shared secret.
type JWTManager struct {
	secret   []byte
	stateTTL time.Duration
	now      func() time.Time
}

// NewJWTManager creates a JWTManager. secret must be non-empty.
func NewJWTManager(secret string, stateTTL time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, eris.New("auth: jwt secret is required")
	}
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &JWTManager{secret: []byte(secret), stateTTL: stateTTL, now: time.Now}, nil
}

// IssueSession mints a session token for ownerID valid for ttl.
func (m *JWTManager) IssueSession(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", eris.New("auth: owner is required")
	}
	claims := m.registered(ownerID, audienceSession, ttl)
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	return s, eris.Wrap(err, "auth: sign session")
}

// ParseSession returns the owner a session token was issued to.
func (m *JWTManager) ParseSession(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if err := m.parse(token, &claims, audienceSession); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", eris.Wrap(ErrInvalidToken, "auth: session has no subject")
	}
	return claims.Subject, nil
}

// IssueState signs st for the configured state lifetime.
func (m *JWTManager) IssueState(st State) (string, error) {
	if st.OwnerID == "" {
		return "", eris.New("auth: owner is required")
	}
	claims := stateClaims{
		RegisteredClaims: m.registered(st.OwnerID, audienceState, m.stateTTL),
		ReturnURL:        st.ReturnURL,
		Continuation:     st.Continuation,
		Resume:           st.Resume,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	return s, eris.Wrap(err, "auth: sign state")
}

// ParseState verifies a state token and returns its contents.
func (m *JWTManager) ParseState(token string) (*State, error) {
	var claims stateClaims
	if err := m.parse(token, &claims, audienceState); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, eris.Wrap(ErrInvalidToken, "auth: state has no subject")
	}
	return &State{
		OwnerID:      claims.Subject,
		ReturnURL:    claims.ReturnURL,
		Continuation: claims.Continuation,
		Resume:       claims.Resume,
	}, nil
}

func (m *JWTManager) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *JWTManager) parse(token string, claims jwt.Claims, audience string) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return eris.Wrapf(ErrInvalidToken, "auth: %v", err)
	}
	return nil
}

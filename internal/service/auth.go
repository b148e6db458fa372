package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatehousehq/gatehouse/internal/model"
	"github.com/gatehousehq/gatehouse/internal/store"
)

// Authentication failures form a closed taxonomy so the gateway can map
// each to the right status code and log the precise reason without leaking
// it to clients.
var (
	ErrMissingHeader = errors.New("missing authorization header")
	ErrMalformed     = errors.New("malformed bearer credential")
	ErrKeyNotFound   = errors.New("api key not found")
	ErrKeyRevoked    = errors.New("api key revoked")
	ErrKeyExpired    = errors.New("api key expired")
	ErrIPNotAllowed  = errors.New("client ip not allowed")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

// bearerPattern is the only accepted credential shape. Anything else is a
// format failure and never reaches the key store.
var bearerPattern = regexp.MustCompile(`^Bearer\s+(sk-[a-f0-9]{64})$`)

const (
	keyPrefixLen   = 12
	mcpTokenScheme = "mcp-"
	apiKeyScheme   = "sk-"
)

// Principal is the identity resolved from a valid API key.
type Principal struct {
	KeyID        string
	WorkspaceID  string
	Scopes       model.Scopes
	RateLimitRPM int
}

// AuthService validates workspace API keys, MCP tokens, and admin JWT
// sessions against the store.
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
}

// NewAuthService creates an AuthService backed by the given store.
func NewAuthService(st *store.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
	}
}

// Authenticate validates the Authorization header value and returns the
// resolved principal. Every request re-checks is_active and expires_at
// against current store state; there is no caching that could mask a
// revocation race.
func (s *AuthService) Authenticate(ctx context.Context, authHeader, clientIP string) (*Principal, error) {
	if authHeader == "" {
		return nil, ErrMissingHeader
	}

	match := bearerPattern.FindStringSubmatch(authHeader)
	if match == nil {
		return nil, ErrMalformed
	}

	key, err := s.store.GetAPIKeyByHash(ctx, store.HashKey(match[1]))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrKeyExpired
	}
	if !key.AllowedIPs.Allows(clientIP) {
		return nil, ErrIPNotAllowed
	}

	// Update last used timestamp (fire and forget)
	go s.store.TouchAPIKey(context.Background(), key.ID)

	return &Principal{
		KeyID:        key.ID,
		WorkspaceID:  key.WorkspaceID,
		Scopes:       key.Scopes,
		RateLimitRPM: key.Limit(),
	}, nil
}

// RequireScope reports whether the principal holds the given scope. An
// empty scope means the endpoint needs authentication only.
func RequireScope(p *Principal, scope model.Scope) bool {
	if scope == "" {
		return true
	}
	return p.Scopes.Has(scope)
}

// ValidateMCPToken checks a raw "mcp-" token against stored token hashes.
func (s *AuthService) ValidateMCPToken(ctx context.Context, rawToken string) (*model.MCPToken, error) {
	token, err := s.store.GetMCPTokenByHash(ctx, store.HashKey(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !token.IsActive {
		return nil, ErrKeyRevoked
	}

	go s.store.TouchMCPToken(context.Background(), token.ID)

	return token, nil
}

// ---------------------------------------------------------------------------
// Credential generation
// ---------------------------------------------------------------------------

// GeneratedKey holds a freshly minted credential. The raw secret is shown
// exactly once and only its hash is persisted.
type GeneratedKey struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateAPIKey mints a new "sk-" API key secret: 32 random bytes, hex
// encoded. The prefix is the first 12 characters, kept for display only.
func GenerateAPIKey() (GeneratedKey, error) {
	return generateCredential(apiKeyScheme)
}

// GenerateMCPToken mints a new "mcp-" MCP token with the same scheme.
func GenerateMCPToken() (GeneratedKey, error) {
	return generateCredential(mcpTokenScheme)
}

func generateCredential(scheme string) (GeneratedKey, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return GeneratedKey{}, err
	}
	raw := scheme + hex.EncodeToString(buf)
	return GeneratedKey{
		Raw:    raw,
		Prefix: raw[:keyPrefixLen],
		Hash:   store.HashKey(raw),
	}, nil
}

// NewAPIKeyRecord builds a persistable APIKey from a generated credential
// and creation parameters, applying scope and rate-limit defaults.
func NewAPIKeyRecord(gen GeneratedKey, workspaceID, name string, scopes model.Scopes, rpm int, expiresAt *time.Time) *model.APIKey {
	if len(scopes) == 0 {
		scopes = model.DefaultScopes()
	}
	if rpm <= 0 {
		rpm = model.DefaultRateLimitRPM
	}
	return &model.APIKey{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		Name:         name,
		KeyHash:      gen.Hash,
		Prefix:       gen.Prefix,
		Scopes:       scopes,
		RateLimitRPM: rpm,
		IsActive:     true,
		ExpiresAt:    expiresAt,
	}
}

// ---------------------------------------------------------------------------
// Admin JWT sessions
// ---------------------------------------------------------------------------

// JWTPrincipal is the admin identity carried in a dashboard session token.
type JWTPrincipal struct {
	AdminID int64
	Email   string
}

// ValidateJWT verifies a JWT bearer token and returns the associated admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "gatehouse",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// Package auth authenticates API clients. Keys are configured as Argon2id
// hashes; a valid key can be exchanged for a short lived JWT.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"go.uber.org/zap"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Permission string

const (
	PermRead    Permission = "read"
	PermControl Permission = "control"
	PermAdmin   Permission = "admin"
)

type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Permissions maps a role to what it may do
func (r Role) Permissions() []Permission {
	switch r {
	case RoleAdmin:
		return []Permission{PermRead, PermControl, PermAdmin}
	case RoleOperator:
		return []Permission{PermRead, PermControl}
	default:
		return []Permission{PermRead}
	}
}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleViewer, RoleOperator, RoleAdmin:
		return r, nil
	case "":
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity is an authenticated caller
type Identity struct {
	Name string
	Role Role
}

type apiKey struct {
	name string
	hash string
	role Role
}

type Service struct {
	enabled    bool
	jwtHandler *JWTHandler
	hasher     *KeyHasher
	keys       []apiKey
	logger     *zap.Logger

	// cacheKey -> Identity of keys that already passed Argon2 verification
	verified sync.Map
}

func NewService(cfg config.AuthConfig, logger *zap.Logger) (*Service, error) {
	keys := make([]apiKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		role, err := ParseRole(k.Role)
		if err != nil {
			return nil, fmt.Errorf("api key %s: %w", k.Name, err)
		}
		keys = append(keys, apiKey{name: k.Name, hash: k.Hash, role: role})
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("Using development JWT secret", zap.String("env", cfg.JWTSecretEnv))
	}

	return &Service{
		enabled:    cfg.Enabled,
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		hasher:     NewKeyHasher(),
		keys:       keys,
		logger:     logger,
	}, nil
}

func (s *Service) Enabled() bool {
	return s.enabled
}

// AuthenticateKey checks an API key against the configured hashes
func (s *Service) AuthenticateKey(key string) (Identity, error) {
	if !ValidateKeyFormat(key) {
		return Identity{}, ErrInvalidCredentials
	}

	ck := cacheKey(key)
	if id, ok := s.verified.Load(ck); ok {
		return id.(Identity), nil
	}

	for _, k := range s.keys {
		ok, err := s.hasher.VerifyKey(key, k.hash)
		if err != nil {
			s.logger.Error("Invalid API key hash in configuration",
				zap.String("key", k.name),
				zap.Error(err))
			continue
		}
		if ok {
			id := Identity{Name: k.name, Role: k.role}
			s.verified.Store(ck, id)
			return id, nil
		}
	}

	return Identity{}, ErrInvalidCredentials
}

// IssueToken exchanges an API key for an access token
func (s *Service) IssueToken(key string) (string, time.Time, Identity, error) {
	id, err := s.AuthenticateKey(key)
	if err != nil {
		return "", time.Time{}, Identity{}, err
	}

	token, expiresAt, err := s.jwtHandler.GenerateAccessToken(id.Name, id.Role)
	if err != nil {
		return "", time.Time{}, Identity{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	s.logger.Info("Access token issued",
		zap.String("key", id.Name),
		zap.String("role", string(id.Role)))

	return token, expiresAt, id, nil
}

// ValidateToken validates any credential (JWT or API key)
func (s *Service) ValidateToken(token string) (Identity, error) {
	if claims, err := s.jwtHandler.ValidateAccessToken(token); err == nil {
		return Identity{Name: claims.KeyName, Role: claims.Role}, nil
	}
	return s.AuthenticateKey(token)
}

// GenerateKey creates a new API key together with the hash for the
// configuration file.
func GenerateKey() (key, hash string, err error) {
	key, err = GenerateAPIKey()
	if err != nil {
		return "", "", err
	}
	hash, err = NewKeyHasher().HashKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/ports"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

type AuthService struct {
	repo ports.APIKeyRepository
	now  func() time.Time
}

func NewAuthService(repo ports.APIKeyRepository) *AuthService {
	return &AuthService{repo: repo, now: time.Now}
}

// Authenticate resolves a bearer token to an active key. Every failure that
// is not a storage error is reported as ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.APIKey{}, ErrUnauthorized
	}

	apiKey, err := s.repo.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.APIKey{}, ErrUnauthorized
		}
		return domain.APIKey{}, err
	}
	if !apiKey.Active {
		return domain.APIKey{}, ErrUnauthorized
	}
	return apiKey, nil
}

// IssueKey creates an active key for the named user and returns the clear
// token. Only the hash is stored.
func (s *AuthService) IssueKey(ctx context.Context, name string, userID uuid.UUID) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: api key name is required", domain.ErrInvalidPrecondition)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	err := s.repo.Upsert(ctx, domain.APIKey{
		TokenHash: HashToken(token),
		Name:      name,
		UserID:    userID,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// RevokeKey deactivates the key for token.
func (s *AuthService) RevokeKey(ctx context.Context, token string) error {
	key, err := s.repo.FindByTokenHash(ctx, HashToken(strings.TrimSpace(token)))
	if err != nil {
		return err
	}
	key.Active = false
	return s.repo.Upsert(ctx, key)
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// Package authz resolves bearer tokens to identities and enforces role
// membership for protected operations.
package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/dkarpov/studenthub/internal/common"
	"github.com/dkarpov/studenthub/internal/server/auth"
	"github.com/dkarpov/studenthub/internal/server/config"
	"github.com/dkarpov/studenthub/internal/server/identity"
	"github.com/dkarpov/studenthub/internal/server/models"
)

type Gate struct {
	identities *identity.Service
	jwtSecret  []byte
}

func NewGate(identities *identity.Service, cfg *config.Config) *Gate {
	return &Gate{identities: identities, jwtSecret: []byte(cfg.SecretKey)}
}

// AuthenticateRequest validates a session token and resolves its subject
// against the stored records. The token may be a bare string or carry the
// "Bearer " prefix. A missing, malformed, expired or forged token, a
// subject that no longer exists, and a deactivated subject all yield
// ErrorUnauthorized. Storage failures pass through untouched.
func (g *Gate) AuthenticateRequest(ctx context.Context, bearerToken string) (*models.Projection, error) {
	token := strings.TrimSpace(bearerToken)
	if prefix := "bearer "; len(token) > len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
		token = strings.TrimSpace(token[len(prefix):])
	}
	if token == "" {
		return nil, common.ErrorUnauthorized
	}

	subjectID, err := auth.SubjectFromSessionToken(token, g.jwtSecret)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}

	ident, err := g.identities.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	if !ident.IsActive {
		return nil, common.ErrorUnauthorized
	}

	return ident, nil
}

// RequireRole compares the identity's role against the allowed set.
// Comparison is case-insensitive: canonicalization is enforced at write
// time, but historical records may carry mixed-case roles.
func (g *Gate) RequireRole(ident *models.Projection, allowedRoles ...models.Role) error {
	if ident == nil {
		return common.ErrorUnauthorized
	}

	for _, role := range allowedRoles {
		if ident.Role.Equal(role) {
			return nil
		}
	}

	return common.ErrorForbidden
}

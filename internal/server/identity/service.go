// Package identity owns the identity record lifecycle: registration, email
// verification, password reset and change, and profile updates. It is the
// only component that mutates identity records, always through the document
// store.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkarpov/studenthub/internal/common"
	"github.com/dkarpov/studenthub/internal/cryptox"
	"github.com/dkarpov/studenthub/internal/logging"
	"github.com/dkarpov/studenthub/internal/server/auth"
	"github.com/dkarpov/studenthub/internal/server/config"
	"github.com/dkarpov/studenthub/internal/server/models"
	"github.com/dkarpov/studenthub/internal/server/notifier"
)

// Store is the document persistence contract. The unit of read and write is
// the whole document.
type Store interface {
	Load(ctx context.Context) (*models.Document, error)
	Persist(ctx context.Context, doc *models.Document) error
}

type Service struct {
	store    Store
	notifier notifier.Notifier
	logger   logging.Logger

	jwtSecret                 []byte
	sessionTokenValidity      time.Duration
	verificationTokenValidity time.Duration
	resetTokenValidity        time.Duration

	// mu serializes every load-mutate-persist sequence. Without it two
	// concurrent mutations can each load a stale document and the second
	// persist silently discards the first's change.
	mu sync.Mutex
}

func NewService(store Store, n notifier.Notifier, l logging.Logger, cfg *config.Config) *Service {
	return &Service{
		store:                     store,
		notifier:                  n,
		logger:                    l.With("module", "identity"),
		jwtSecret:                 []byte(cfg.SecretKey),
		sessionTokenValidity:      cfg.SessionTokenValidity,
		verificationTokenValidity: cfg.VerificationTokenValidity,
		resetTokenValidity:        cfg.ResetTokenValidity,
	}
}

// mutate runs fn against a freshly loaded document and, when fn asks for it,
// persists the result. The whole sequence holds the service mutex. A false
// persist flag means the operation completed without touching durable state.
func (s *Service) mutate(ctx context.Context, fn func(doc *models.Document) (persist bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	persist, err := fn(doc)
	if err != nil {
		return err
	}
	if !persist {
		return nil
	}

	return s.store.Persist(ctx, doc)
}

// Register creates an unverified identity record, issues a verification
// token and relays it to the notifier. The returned projection never carries
// the password hash or the token.
func (s *Service) Register(ctx context.Context, name, email, password, role string) (*models.Projection, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", common.ErrorValidation)
	}

	normalizedRole, ok := models.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrorValidation, role)
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	token, err := auth.NewSideChannelToken()
	if err != nil {
		return nil, common.ErrorInternal
	}

	var projection models.Projection

	err = s.mutate(ctx, func(doc *models.Document) (bool, error) {
		if doc.FindByEmail(email) != nil {
			return false, common.ErrDuplicateEmail
		}

		now := time.Now().UTC()
		expiry := now.Add(s.verificationTokenValidity)
		record := models.Identity{
			ID:                 uuid.NewString(),
			Name:               name,
			Email:              email,
			PasswordHash:       hash,
			Role:               normalizedRole,
			IsVerified:         false,
			IsActive:           true,
			VerificationToken:  token,
			VerificationExpiry: &expiry,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		doc.Identities = append(doc.Identities, record)
		projection = record.Projection()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "identity registered", "email", email, "role", string(normalizedRole))
	s.relayVerification(ctx, email, name, token)

	return &projection, nil
}

// Authenticate checks credentials against the stored record. A missing
// record, a deactivated record and a wrong password are indistinguishable to
// the caller. Correct credentials on an unverified record fail with the
// distinct ErrEmailNotVerified. On success it returns the projection and a
// fresh session token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.Projection, string, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, "", err
	}

	record := doc.FindByEmail(email)
	if record == nil || !record.IsActive || !cryptox.CheckPassword(password, record.PasswordHash) {
		return nil, "", common.ErrInvalidCredentials
	}

	if !record.IsVerified {
		return nil, "", common.ErrEmailNotVerified
	}

	token, err := auth.GenerateSessionToken(record.ID, s.jwtSecret, s.sessionTokenValidity)
	if err != nil {
		return nil, "", common.ErrorInternal
	}

	projection := record.Projection()
	return &projection, token, nil
}

// VerifyEmail consumes an unexpired verification token: the record becomes
// verified and the token is cleared atomically with the same persist.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.Projection, error) {
	var projection models.Projection

	err := s.mutate(ctx, func(doc *models.Document) (bool, error) {
		record := doc.FindByVerificationToken(token, time.Now().UTC())
		if record == nil {
			return false, common.ErrInvalidOrExpiredToken
		}

		record.IsVerified = true
		record.ClearVerification()
		record.UpdatedAt = time.Now().UTC()
		projection = record.Projection()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "email verified", "email", projection.Email)
	return &projection, nil
}

// RequestPasswordReset issues a fresh reset token for the record matching
// the email and relays it to the notifier. When no record matches, the
// operation still reports success and performs no persistence, so callers
// cannot probe which emails exist. The token is returned for relay by other
// collaborators; it is empty when nothing was issued.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, err := auth.NewSideChannelToken()
	if err != nil {
		return "", common.ErrorInternal
	}

	var recipient, name string
	issued := false

	err = s.mutate(ctx, func(doc *models.Document) (bool, error) {
		record := doc.FindByEmail(email)
		if record == nil {
			return false, nil
		}

		now := time.Now().UTC()
		expiry := now.Add(s.resetTokenValidity)
		record.ResetToken = token
		record.ResetExpiry = &expiry
		record.UpdatedAt = now

		recipient, name = record.Email, record.Name
		issued = true
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if !issued {
		return "", nil
	}

	if err := s.notifier.NotifyPasswordReset(ctx, recipient, name, token); err != nil {
		s.logger.Warn(ctx, "password reset notification failed", "email", recipient, "error", err.Error())
	}

	return token, nil
}

// ResetPassword consumes an unexpired reset token and replaces the password
// hash. The token and its expiry are cleared with the same persist.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", common.ErrorValidation)
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	return s.mutate(ctx, func(doc *models.Document) (bool, error) {
		record := doc.FindByResetToken(token, time.Now().UTC())
		if record == nil {
			return false, common.ErrInvalidOrExpiredToken
		}

		record.PasswordHash = hash
		record.ClearReset()
		record.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

// ChangePassword replaces the password hash for an authenticated identity
// after re-checking the current password. Exposure of this operation is
// gated by a prior session token resolution; the service only enforces the
// current-password check.
func (s *Service) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", common.ErrorValidation)
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	return s.mutate(ctx, func(doc *models.Document) (bool, error) {
		record := doc.FindByID(identityID)
		if record == nil {
			return false, common.ErrorNotFound
		}

		if !cryptox.CheckPassword(currentPassword, record.PasswordHash) {
			return false, common.ErrIncorrectPassword
		}

		record.PasswordHash = hash
		record.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

// ResendVerification reissues a verification token for an unverified
// record. A missing record reports success without persistence; a record
// that is already verified is the one case reported explicitly.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	token, err := auth.NewSideChannelToken()
	if err != nil {
		return common.ErrorInternal
	}

	var recipient, name string
	issued := false

	err = s.mutate(ctx, func(doc *models.Document) (bool, error) {
		record := doc.FindByEmail(email)
		if record == nil {
			return false, nil
		}
		if record.IsVerified {
			return false, common.ErrAlreadyVerified
		}

		now := time.Now().UTC()
		expiry := now.Add(s.verificationTokenValidity)
		record.VerificationToken = token
		record.VerificationExpiry = &expiry
		record.UpdatedAt = now

		recipient, name = record.Email, record.Name
		issued = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !issued {
		return nil
	}

	s.relayVerification(ctx, recipient, name, token)
	return nil
}

// Get returns the public projection of a single identity record.
func (s *Service) Get(ctx context.Context, identityID string) (*models.Projection, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	record := doc.FindByID(identityID)
	if record == nil {
		return nil, common.ErrorNotFound
	}

	projection := record.Projection()
	return &projection, nil
}

// List returns the public projections of all identity records.
func (s *Service) List(ctx context.Context) ([]models.Projection, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	projections := make([]models.Projection, 0, len(doc.Identities))
	for idx := range doc.Identities {
		projections = append(projections, doc.Identities[idx].Projection())
	}
	return projections, nil
}

// Update describes a partial profile update. Nil fields are left untouched.
// Passwords are never updatable through this path.
type Update struct {
	Name     *string
	Email    *string
	Role     *string
	IsActive *bool
}

// UpdateProfile applies a partial update to an identity record. Email
// changes re-check uniqueness against the full set; role changes go through
// the same canonicalization as registration. Deactivation is a field flip,
// never a removal.
func (s *Service) UpdateProfile(ctx context.Context, identityID string, upd Update) (*models.Projection, error) {
	var projection models.Projection

	err := s.mutate(ctx, func(doc *models.Document) (bool, error) {
		record := doc.FindByID(identityID)
		if record == nil {
			return false, common.ErrorNotFound
		}

		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return false, fmt.Errorf("%w: name must not be empty", common.ErrorValidation)
			}
			record.Name = name
		}

		if upd.Email != nil {
			email := strings.TrimSpace(*upd.Email)
			if email == "" {
				return false, fmt.Errorf("%w: email must not be empty", common.ErrorValidation)
			}
			if existing := doc.FindByEmail(email); existing != nil && existing.ID != record.ID {
				return false, common.ErrDuplicateEmail
			}
			record.Email = email
		}

		if upd.Role != nil {
			role, ok := models.ParseRole(*upd.Role)
			if !ok {
				return false, fmt.Errorf("%w: unknown role %q", common.ErrorValidation, *upd.Role)
			}
			record.Role = role
		}

		if upd.IsActive != nil {
			record.IsActive = *upd.IsActive
		}

		record.UpdatedAt = time.Now().UTC()
		projection = record.Projection()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &projection, nil
}

func (s *Service) relayVerification(ctx context.Context, email, name, token string) {
	if err := s.notifier.NotifyVerification(ctx, email, name, token); err != nil {
		s.logger.Warn(ctx, "verification notification failed", "email", email, "error", err.Error())
	}
}

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkarpov/studenthub/internal/common"
	"github.com/dkarpov/studenthub/internal/cryptox"
	"github.com/dkarpov/studenthub/internal/logging"
	"github.com/dkarpov/studenthub/internal/server/auth"
	"github.com/dkarpov/studenthub/internal/server/config"
	"github.com/dkarpov/studenthub/internal/server/docstore"
	"github.com/dkarpov/studenthub/internal/server/models"
)

// --- helpers ---

// memStore mimics the file store's semantics: every Load returns an
// independent copy, so mutations are only visible after Persist.
type memStore struct {
	mu         sync.Mutex
	doc        *models.Document
	loadErr    error
	persistErr error
	persists   int
}

func newMemStore() *memStore {
	return &memStore{doc: models.NewDocument()}
}

func copyDoc(t *models.Document) *models.Document {
	b, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	out := models.NewDocument()
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

func (m *memStore) Load(ctx context.Context) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return copyDoc(m.doc), nil
}

func (m *memStore) Persist(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return m.persistErr
	}
	m.doc = copyDoc(doc)
	m.persists++
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string // "type email token"
}

func (f *fakeNotifier) record(kind, email, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind+" "+email+" "+token)
}

func (f *fakeNotifier) NotifyVerification(ctx context.Context, email, name, token string) error {
	f.record("verify", email, token)
	return nil
}

func (f *fakeNotifier) NotifyPasswordReset(ctx context.Context, email, name, token string) error {
	f.record("reset", email, token)
	return nil
}

func (f *fakeNotifier) lastToken(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		t.Fatal("no notifier events recorded")
	}
	last := f.events[len(f.events)-1]
	for i := len(last) - 1; i >= 0; i-- {
		if last[i] == ' ' {
			return last[i+1:]
		}
	}
	return last
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                 "k",
		SessionTokenValidity:      time.Hour,
		VerificationTokenValidity: 24 * time.Hour,
		ResetTokenValidity:        time.Hour,
	}
}

func newTestService(t *testing.T, store Store, n *fakeNotifier) *Service {
	t.Helper()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewService(store, n, logger, testConfig())
}

func mustRegister(t *testing.T, s *Service, name, email, password, role string) *models.Projection {
	t.Helper()
	p, err := s.Register(context.Background(), name, email, password, role)
	if err != nil {
		t.Fatalf("Register(%q) error: %v", email, err)
	}
	return p
}

func mustVerify(t *testing.T, s *Service, n *fakeNotifier) {
	t.Helper()
	if _, err := s.VerifyEmail(context.Background(), n.lastToken(t)); err != nil {
		t.Fatalf("VerifyEmail error: %v", err)
	}
}

// --- Register ---

func TestRegister_ProjectionNeverExposesSecrets(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	s := newTestService(t, store, n)

	p := mustRegister(t, s, "Alice", "alice@school.test", "hunter22", "teacher")

	if p.ID == "" || p.Name != "Alice" || p.Email != "alice@school.test" {
		t.Fatalf("unexpected projection: %+v", p)
	}
	if p.Role != models.RoleTeacher || p.IsVerified || !p.IsActive {
		t.Fatalf("unexpected projection state: %+v", p)
	}

	// the projection type itself carries no secret fields; check the
	// serialized form to be certain
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal projection: %v", err)
	}
	serialized := strings.ToLower(string(b))
	for _, forbidden := range []string{"passwordhash", "verificationtoken", "resettoken", "hunter22"} {
		if strings.Contains(serialized, forbidden) {
			t.Fatalf("projection leaks %q: %s", forbidden, b)
		}
	}

	rec := store.doc.FindByEmail("alice@school.test")
	if rec == nil {
		t.Fatal("record not persisted")
	}
	if rec.PasswordHash == "hunter22" || rec.PasswordHash == "" {
		t.Fatalf("password not hashed: %q", rec.PasswordHash)
	}
	if !cryptox.CheckPassword("hunter22", rec.PasswordHash) {
		t.Fatal("stored hash does not verify the original password")
	}
	if rec.VerificationToken == "" || rec.VerificationExpiry == nil {
		t.Fatal("verification token not issued")
	}
	if n.lastToken(t) != rec.VerificationToken {
		t.Fatal("notifier did not receive the persisted verification token")
	}
}

func TestRegister_DuplicateEmail_CaseInsensitive(t *testing.T) {
	s := newTestService(t, newMemStore(), &fakeNotifier{})

	mustRegister(t, s, "A", "a@x.com", "pw123456", "")

	_, err := s.Register(context.Background(), "B", "A@X.com", "pw123456", "")
	if !errors.Is(err, common.ErrDuplicateEmail) {
		t.Fatalf("want ErrDuplicateEmail, got %v", err)
	}
}

func TestRegister_RoleHandling(t *testing.T) {
	s := newTestService(t, newMemStore(), &fakeNotifier{})

	p := mustRegister(t, s, "A", "a@x.com", "pw123456", "")
	if p.Role != models.RoleStudent {
		t.Fatalf("absent role should default to student, got %q", p.Role)
	}

	p2 := mustRegister(t, s, "B", "b@x.com", "pw123456", "Teacher")
	if p2.Role != models.RoleTeacher {
		t.Fatalf("role should be normalized, got %q", p2.Role)
	}

	_, err := s.Register(context.Background(), "C", "c@x.com", "pw123456", "principal")
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("unknown role should fail validation, got %v", err)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	s := newTestService(t, newMemStore(), &fakeNotifier{})

	for _, tc := range []struct{ name, email, password string }{
		{"", "a@x.com", "pw"},
		{"A", "", "pw"},
		{"A", "a@x.com", ""},
	} {
		if _, err := s.Register(context.Background(), tc.name, tc.email, tc.password, ""); !errors.Is(err, common.ErrorValidation) {
			t.Fatalf("missing field should fail validation, got %v", err)
		}
	}
}

func TestRegister_StorageFailureIsNotCommitted(t *testing.T) {
	store := newMemStore()
	store.persistErr = common.ErrStorageFailure
	s := newTestService(t, store, &fakeNotifier{})

	_, err := s.Register(context.Background(), "A", "a@x.com", "pw123456", "")
	if !errors.Is(err, common.ErrStorageFailure) {
		t.Fatalf("want ErrStorageFailure, got %v", err)
	}
	if len(store.doc.Identities) != 0 {
		t.Fatal("failed persist must not leave the record committed")
	}
}

// --- Authenticate ---

func TestAuthenticate_UnknownAndWrongPasswordAreIndistinguishable(t *testing.T) {
	n := &fakeNotifier{}
	s := newTestService(t, newMemStore(), n)
	mustRegister(t, s, "A", "a@x.com", "pw123456", "")
	mustVerify(t, s, n)

	_, _, errUnknown := s.Authenticate(context.Background(), "ghost@x.com", "pw123456")
	_, _, errWrongPw := s.Authenticate(context.Background(), "a@x.com", "wrong")

	if !errors.Is(errUnknown, common.ErrInvalidCredentials) {
		t.Fatalf("unknown email: want ErrInvalidCredentials, got %v", errUnknown)
	}
	if !errors.Is(errWrongPw, common.ErrInvalidCredentials) {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", errWrongPw)
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatalf("the two failures must be observably identical: %q vs %q", errUnknown, errWrongPw)
	}
}

func TestAuthenticate_UnverifiedFailsDistinctly(t *testing.T) {
	s := newTestService(t, newMemStore(), &fakeNotifier{})
	mustRegister(t, s, "A", "a@x.com", "pw123456", "")

	_, _, err := s.Authenticate(context.Background(), "a@x.com", "pw123456")
	if !errors.Is(err, common.ErrEmailNotVerified) {
		t.Fatalf("want ErrEmailNotVerified, got %v", err)
	}
	if errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatal("EmailNotVerified must be distinct from InvalidCredentials")
	}
}

func TestAuthenticate_DeactivatedFailsLikeUnknown(t *testing.T) {
	n := &fakeNotifier{}
	s := newTestService(t, newMemStore(), n)
	p := mustRegister(t, s, "A", "a@x.com", "pw123456", "")
	mustVerify(t, s, n)

	inactive := false
	if _, err := s.UpdateProfile(context.Background(), p.ID, Update{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateProfile error: %v", err)
	}

	_, _, err := s.Authenticate(context.Background(), "a@x.com", "pw123456")
	if !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("deactivated account must fail with ErrInvalidCredentials, got %v", err)
	}
}

func TestRoundTrip_RegisterVerifyAuthenticate(t *testing.T) {
	n := &fakeNotifier{}
	s := newTestService(t, newMemStore(), n)

	registered := mustRegister(t, s, "A", "a@x.com", "pw123456", "staff")
	mustVerify(t, s, n)

	p, token, err := s.Authenticate(context.Background(), "a@x.com", "pw123456")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if token == "" || p.ID != registered.ID {
		t.Fatalf("unexpected authenticate result: token=%q id=%q", token, p.ID)
	}

	subject, err := auth.SubjectFromSessionToken(token, []byte(testConfig().SecretKey))
	if err != nil {
		t.Fatalf("session token does not validate: %v", err)
	}
	if subject != registered.ID {
		t.Fatalf("session token resolves to %q, want %q", subject, registered.ID)
	}
}

// --- VerifyEmail ---

func TestVerifyEmail_TokenSucceedsExactlyOnce(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	s := newTestService(t, store, n)
	mustRegister(t, s, "A", "a@x.com", "pw123456", "")
	token := n.lastToken(t)

	p, err := s.VerifyEmail(context.Background(), token)
	if err != nil {
		t.Fatalf("first VerifyEmail error: %v", err)
	}
	if !p.IsVerified {
		t.Fatal("record should be verified")
	}

	rec := store.doc.FindByEmail("a@x.com")
	if rec.VerificationToken != "" || rec.VerificationExpiry != nil {
		t.Fatal("verification token must be cleared atomically with the verify")
	}

	if _, err := s.VerifyEmail(context.Background(), token); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("second use must fail with ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestVerifyEmail_ExpiredTokenTreatedAsAbsent(t *testing.T) {
	store := newMemStore()
	past := time.Now().UTC().Add(-time.Minute)
	store.doc.Identities = append(store.doc.Identities, models.Identity{
		ID: "u1", Email: "a@x.com", VerificationToken: "tok", VerificationExpiry: &past,
	})
	s := newTestService(t, store, &fakeNotifier{})

	if _, err := s.VerifyEmail(context.Background(), "tok"); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

// --- password reset ---

func TestRequestPasswordReset_NonLeaking(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	s := newTestService(t, store, n)

	token, err := s.RequestPasswordReset(context.Background(), "ghost@x.com")
	if err != nil {
		t.Fatalf("unknown email must still report success, got %v", err)
	}
	if token != "" {
		t.Fatal("no token may be issued for an unknown email")
	}
	if store.persists != 0 {
		t.Fatal("unknown email must not trigger persistence")
	}
	if len(n.events) != 0 {
		t.Fatal("unknown email must not trigger a notification")
	}
}

func TestResetPassword_FullFlow(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	s := newTestService(t, store, n)
	mustRegister(t, s, "A", "a@x.com", "oldpass99", "")
	mustVerify(t, s, n)

	token, err := s.RequestPasswordReset(context.Background(), "a@x.com")
	if err != nil || token == "" {
		t.Fatalf("RequestPasswordReset: token=%q err=%v", token, err)
	}
	if n.lastToken(t) != token {
		t.Fatal("notifier did not receive the reset token")
	}

	if err := s.ResetPassword(context.Background(), token, "newpass99"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	if _, _, err := s.Authenticate(context.Background(), "a@x.com", "oldpass99"); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("old password must be rejected, got %v", err)
	}
	if _, _, err := s.Authenticate(context.Background(), "a@x.com", "newpass99"); err != nil {
		t.Fatalf("new password must authenticate, got %v", err)
	}

	// consumed token cannot be replayed
	if err := s.ResetPassword(context.Background(), token, "another99"); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("reused reset token must fail, got %v", err)
	}
}

func TestResetPassword_ExpiredTokenFailsEvenIfUncleared(t *testing.T) {
	store := newMemStore()
	past := time.Now().UTC().Add(-time.Second)
	store.doc.Identities = append(store.doc.Identities, models.Identity{
		ID: "u1", Email: "a@x.com", ResetToken: "tok", ResetExpiry: &past,
	})
	s := newTestService(t, store, &fakeNotifier{})

	if err := s.ResetPassword(context.Background(), "tok", "newpass99"); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
		t.Fatalf("expired reset token must fail, got %v", err)
	}
}

// --- ChangePassword ---

func TestChangePassword_Flows(t *testing.T) {
	n := &fakeNotifier{}
	s := newTestService(t, newMemStore(), n)
	p := mustRegister(t, s, "A", "a@x.com", "oldpass99", "")
	mustVerify(t, s, n)

	if err := s.ChangePassword(context.Background(), "missing-id", "oldpass99", "newpass99"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("missing identity: want ErrorNotFound, got %v", err)
	}

	if err := s.ChangePassword(context.Background(), p.ID, "wrong", "newpass99"); !errors.Is(err, common.ErrIncorrectPassword) {
		t.Fatalf("wrong current password: want ErrIncorrectPassword, got %v", err)
	}

	if err := s.ChangePassword(context.Background(), p.ID, "oldpass99", "newpass99"); err != nil {
		t.Fatalf("ChangePassword error: %v", err)
	}
	if _, _, err := s.Authenticate(context.Background(), "a@x.com", "newpass99"); err != nil {
		t.Fatalf("new password must authenticate, got %v", err)
	}
}

// --- ResendVerification ---

func TestResendVerification(t *testing.T) {
	store := newMemStore()
	n := &fakeNotifier{}
	s := newTestService(t, store, n)
	mustRegister(t, s, "A", "a@x.com", "pw123456", "")
	first := n.lastToken(t)

	t.Run("unknown email is silent", func(t *testing.T) {
		events := len(n.events)
		if err := s.ResendVerification(context.Background(), "ghost@x.com"); err != nil {
			t.Fatalf("unknown email must report success, got %v", err)
		}
		if len(n.events) != events {
			t.Fatal("unknown email must not notify")
		}
	})

	t.Run("reissues a fresh token", func(t *testing.T) {
		if err := s.ResendVerification(context.Background(), "a@x.com"); err != nil {
			t.Fatalf("ResendVerification error: %v", err)
		}
		second := n.lastToken(t)
		if second == first {
			t.Fatal("resend must issue a fresh token")
		}

		// the old token no longer verifies
		if _, err := s.VerifyEmail(context.Background(), first); !errors.Is(err, common.ErrInvalidOrExpiredToken) {
			t.Fatalf("stale token must fail, got %v", err)
		}
		if _, err := s.VerifyEmail(context.Background(), second); err != nil {
			t.Fatalf("fresh token must verify, got %v", err)
		}
	})

	t.Run("already verified is explicit", func(t *testing.T) {
		if err := s.ResendVerification(context.Background(), "a@x.com"); !errors.Is(err, common.ErrAlreadyVerified) {
			t.Fatalf("want ErrAlreadyVerified, got %v", err)
		}
	})
}

// --- UpdateProfile ---

func TestUpdateProfile(t *testing.T) {
	n := &fakeNotifier{}
	s := newTestService(t, newMemStore(), n)
	a := mustRegister(t, s, "A", "a@x.com", "pw123456", "")
	mustRegister(t, s, "B", "b@x.com", "pw123456", "")

	t.Run("email uniqueness enforced", func(t *testing.T) {
		email := "B@x.com"
		_, err := s.UpdateProfile(context.Background(), a.ID, Update{Email: &email})
		if !errors.Is(err, common.ErrDuplicateEmail) {
			t.Fatalf("want ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("own email casing change is allowed", func(t *testing.T) {
		email := "A@x.com"
		p, err := s.UpdateProfile(context.Background(), a.ID, Update{Email: &email})
		if err != nil {
			t.Fatalf("UpdateProfile error: %v", err)
		}
		if p.Email != "A@x.com" {
			t.Fatalf("email not updated: %q", p.Email)
		}
	})

	t.Run("role normalized", func(t *testing.T) {
		role := "ADMIN"
		p, err := s.UpdateProfile(context.Background(), a.ID, Update{Role: &role})
		if err != nil {
			t.Fatalf("UpdateProfile error: %v", err)
		}
		if p.Role != models.RoleAdmin {
			t.Fatalf("role not normalized: %q", p.Role)
		}
	})

	t.Run("missing identity", func(t *testing.T) {
		name := "X"
		if _, err := s.UpdateProfile(context.Background(), "missing", Update{Name: &name}); !errors.Is(err, common.ErrorNotFound) {
			t.Fatalf("want ErrorNotFound, got %v", err)
		}
	})
}

// --- concurrency over the real file store ---

func TestConcurrentChangePassword_DocumentStaysConsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.json")
	store := docstore.NewFileStore(path)
	n := &fakeNotifier{}
	s := newTestService(t, store, n)

	a := mustRegister(t, s, "A", "a@x.com", "password-a", "")
	mustVerify(t, s, n)
	b := mustRegister(t, s, "B", "b@x.com", "password-b", "")
	mustVerify(t, s, n)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.ChangePassword(context.Background(), a.ID, "password-a", "changed-a"); err != nil {
			t.Errorf("ChangePassword a: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.ChangePassword(context.Background(), b.ID, "password-b", "changed-b"); err != nil {
			t.Errorf("ChangePassword b: %v", err)
		}
	}()
	wg.Wait()

	// the document must remain parseable, and with the serialized
	// load-mutate-persist sequence neither update may be lost
	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("document unreadable after concurrent mutations: %v", err)
	}
	if len(doc.Identities) != 2 {
		t.Fatalf("expected 2 records, got %d", len(doc.Identities))
	}
	if _, _, err := s.Authenticate(context.Background(), "a@x.com", "changed-a"); err != nil {
		t.Fatalf("update to a was lost: %v", err)
	}
	if _, _, err := s.Authenticate(context.Background(), "b@x.com", "changed-b"); err != nil {
		t.Fatalf("update to b was lost: %v", err)
	}
}

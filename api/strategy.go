package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

// ErrInvalidCredential is returned for every password verification failure.
// Unknown email and wrong password collapse into one error so responses do
// not leak which emails have accounts.
var ErrInvalidCredential = errors.New("invalid email or password")

// Credential is a closed set of verification inputs: a password credential
// or a federated-identity assertion.
type Credential interface {
	credential()
}

// PasswordCredential verifies against a stored password hash.
type PasswordCredential struct {
	Email    string
	Password string
}

func (PasswordCredential) credential() {}

// FederatedAssertion is a provider-verified identity: a stable subject
// identifier plus asserted profile fields.
type FederatedAssertion struct {
	Subject string
	Email   string
	Name    string
}

func (FederatedAssertion) credential() {}

// Verifier maps credentials to durable principals.
type Verifier struct {
	users  UserStore
	logger *log.Logger
}

// NewVerifier creates a Verifier backed by the given user store.
func NewVerifier(users UserStore, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Verifier{users: users, logger: logger}
}

// Verify resolves a credential to its principal. Password verification fails
// with ErrInvalidCredential; a federated assertion never fails on absence —
// an unknown subject provisions a new principal.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (domain.User, error) {
	switch c := cred.(type) {
	case PasswordCredential:
		return v.verifyPassword(ctx, c)
	case FederatedAssertion:
		return v.verifyFederated(ctx, c)
	default:
		return domain.User{}, fmt.Errorf("unsupported credential type %T", cred)
	}
}

func (v *Verifier) verifyPassword(ctx context.Context, c PasswordCredential) (domain.User, error) {
	user, err := v.users.UserByEmail(ctx, c.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.User{}, ErrInvalidCredential
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		// Federated-only account; it has no password to check.
		return domain.User{}, ErrInvalidCredential
	}

	ok, err := verifyPassword(user.PasswordHash, c.Password)
	if err != nil {
		v.logger.WithField("user", user.ID).Errorf("password verify: %v", err)
		return domain.User{}, ErrInvalidCredential
	}
	if !ok {
		return domain.User{}, ErrInvalidCredential
	}
	return user, nil
}

func (v *Verifier) verifyFederated(ctx context.Context, c FederatedAssertion) (domain.User, error) {
	user, err := v.users.UserByGoogleID(ctx, c.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.User{}, err
	}

	user = domain.User{
		ID:       uuid.NewString(),
		Email:    c.Email,
		Name:     c.Name,
		GoogleID: c.Subject,
	}
	if err := v.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with a concurrent first login for the same subject.
			return v.users.UserByGoogleID(ctx, c.Subject)
		}
		return domain.User{}, err
	}
	v.logger.WithField("user", user.ID).Info("provisioned principal from federated login")
	return user, nil
}

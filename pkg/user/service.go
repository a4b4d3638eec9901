package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/CoderRahul01/unideploy/internal/db"
)

// Service encapsulates user business logic, including the
// upsert-on-first-token behavior required by §6.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a user Service backed by the given database connection.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// Get returns a single user by ID.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// ResolveOrCreate implements auth.UserResolver: it looks up the User for a
// verified identity's subject claim, creating one on first sight, and
// returns the internal owner id used everywhere else in the domain.
func (s *Service) ResolveOrCreate(ctx context.Context, subject, email string) (int64, error) {
	u, err := s.store.GetByExternalID(ctx, subject)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("looking up user by external id: %w", err)
	}

	username := subject
	if email != "" {
		if at := strings.IndexByte(email, '@'); at > 0 {
			username = email[:at]
		}
	}

	u, err = s.store.Create(ctx, subject, email, username)
	if err != nil {
		return 0, fmt.Errorf("provisioning user: %w", err)
	}
	s.logger.Info("provisioned user on first verified token", "user_id", u.ID, "external_id", subject)
	return u.ID, nil
}

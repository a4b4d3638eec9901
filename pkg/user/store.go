package user

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/CoderRahul01/unideploy/internal/db"
)

// Store provides database operations for users.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a user Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const userColumns = `id, external_id, email, username, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Username, &u.CreatedAt)
	return u, err
}

// GetByExternalID looks up a User by the identity provider's subject claim.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
	return scanUser(row)
}

// Get returns a single user by ID.
func (s *Store) Get(ctx context.Context, id int64) (User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Create inserts a new user with username stored as given; Service's
// ResolveOrCreate derives it from the local part of email when there is one.
func (s *Store) Create(ctx context.Context, externalID, email, username string) (User, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO users (external_id, email, username) VALUES ($1, $2, $3)
		 ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		 RETURNING `+userColumns,
		externalID, email, username,
	)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

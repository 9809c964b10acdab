package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Unique constraint names, as created by the migrations.
const (
	ConstraintUserEmail    = "users_email_lower_key"
	ConstraintUsername     = "users_username_key"
	ConstraintAuthProvider = "user_auth_providers_provider_provider_id_key"
	ConstraintDevice       = "user_devices_user_id_device_token_key"
)

var constraintFields = map[string]string{
	ConstraintUserEmail:    "email",
	ConstraintUsername:     "username",
	ConstraintAuthProvider: "auth_provider",
	ConstraintDevice:       "device",
}

// MapPostgresError translates driver errors into store-level errors.
// Unique violations become *models.ConflictError naming the colliding field.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			field, ok := constraintFields[pgErr.ConstraintName]
			if !ok {
				field = pgErr.ConstraintName
			}
			return &models.ConflictError{Field: field, Constraint: pgErr.ConstraintName}
		case "23503", "23502": // foreign_key_violation, not_null_violation
			return fmt.Errorf("%w: %s", models.ErrBadRequest, pgErr.Message)
		}
	}

	return err
}

// WithTransaction runs fn inside a transaction on conn, committing on success
// and rolling back on error or panic.
func WithTransaction(ctx context.Context, conn DBTX, fn func(pgx.Tx) error) (err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(tx)
}

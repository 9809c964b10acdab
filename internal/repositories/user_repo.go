package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/database"
	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, username, display_name, avatar_url, phone_number, bio,
	is_active, is_verified, status, last_seen, created_at, updated_at`

const providerColumns = `provider, provider_id, provider_email, access_token, refresh_token,
	expires_at, created_at, updated_at`

const deviceColumns = `device_token, device_type, device_name, is_active, last_used_at, created_at`

// UserRepository persists users together with their linked auth providers
// and devices. Reads never select the password hash unless asked to.
type UserRepository struct {
	db  database.DBTX
	now func() time.Time
}

func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner, withPassword bool) (*models.User, error) {
	var user models.User
	dest := []interface{}{
		&user.ID, &user.Email, &user.Username, &user.DisplayName, &user.AvatarURL,
		&user.PhoneNumber, &user.Bio, &user.IsActive, &user.IsVerified, &user.Status,
		&user.LastSeen, &user.CreatedAt, &user.UpdatedAt,
	}
	if withPassword {
		dest = append(dest, &user.PasswordHash)
	}

	if err := scanner.Scan(dest...); err != nil {
		return nil, database.MapPostgresError(err)
	}
	user.AuthProviders = []models.AuthProvider{}
	user.Devices = []models.Device{}
	return &user, nil
}

func (r *UserRepository) getOne(ctx context.Context, withPassword bool, where string, args ...interface{}) (*models.User, error) {
	cols := userColumns
	if withPassword {
		cols += ", password_hash"
	}
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s", cols, where)

	user, err := scanUserRow(r.db.QueryRow(ctx, query, args...), withPassword)
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) loadRelations(ctx context.Context, user *models.User) error {
	rows, err := r.db.Query(ctx,
		`SELECT `+providerColumns+` FROM user_auth_providers WHERE user_id = $1 ORDER BY created_at, provider`,
		user.ID)
	if err != nil {
		return fmt.Errorf("failed to query auth providers: %w", err)
	}
	providers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuthProvider, error) {
		var p models.AuthProvider
		err := row.Scan(&p.Provider, &p.ProviderID, &p.ProviderEmail, &p.AccessToken,
			&p.RefreshToken, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan auth providers: %w", err)
	}

	rows, err = r.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM user_devices WHERE user_id = $1 ORDER BY created_at`,
		user.ID)
	if err != nil {
		return fmt.Errorf("failed to query devices: %w", err)
	}
	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Device, error) {
		var d models.Device
		err := row.Scan(&d.DeviceToken, &d.DeviceType, &d.DeviceName, &d.IsActive, &d.LastUsedAt, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan devices: %w", err)
	}

	user.AuthProviders = providers
	user.Devices = devices
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, false, "id = $1", id)
}

// GetByEmail matches case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, false, "LOWER(email) = LOWER($1)", email)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, false, "username = $1", username)
}

// GetByEmailWithPassword is the only read that returns the password hash.
func (r *UserRepository) GetByEmailWithPassword(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, true, "LOWER(email) = LOWER($1)", email)
}

func (r *UserRepository) GetByAuthProvider(ctx context.Context, provider models.Provider, providerID string) (*models.User, error) {
	return r.getOne(ctx, false,
		"id = (SELECT user_id FROM user_auth_providers WHERE provider = $1 AND provider_id = $2)",
		string(provider), providerID)
}

// Create inserts the user with its providers and devices in one transaction.
// The email is stored lowercased and the ID assigned here.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	now := r.now().UTC()
	user.ID = uuid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = models.StatusOffline
	}
	if user.AuthProviders == nil {
		user.AuthProviders = []models.AuthProvider{}
	}
	if user.Devices == nil {
		user.Devices = []models.Device{}
	}

	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, username, display_name, password_hash, avatar_url, phone_number, bio,
				is_active, is_verified, status, last_seen, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			user.ID, user.Email, user.Username, user.DisplayName, user.PasswordHash, user.AvatarURL,
			user.PhoneNumber, user.Bio, user.IsActive, user.IsVerified, user.Status, user.LastSeen,
			user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		for i := range user.AuthProviders {
			if err := upsertProvider(ctx, tx, user.ID, &user.AuthProviders[i], now); err != nil {
				return err
			}
		}
		for i := range user.Devices {
			if err := upsertDevice(ctx, tx, user.ID, &user.Devices[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// Save writes profile/state columns and upserts every provider entry in one
// transaction. Devices are maintained through UpsertDevice/RemoveDevice.
func (r *UserRepository) Save(ctx context.Context, user *models.User) (*models.User, error) {
	now := r.now().UTC()
	user.UpdatedAt = now

	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET username = $2, display_name = $3, avatar_url = $4, phone_number = $5, bio = $6,
				is_active = $7, is_verified = $8, status = $9, last_seen = $10, updated_at = $11
			WHERE id = $1`,
			user.ID, user.Username, user.DisplayName, user.AvatarURL, user.PhoneNumber, user.Bio,
			user.IsActive, user.IsVerified, user.Status, user.LastSeen, user.UpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		for i := range user.AuthProviders {
			if err := upsertProvider(ctx, tx, user.ID, &user.AuthProviders[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// upsertProvider refuses to move a provider identity that is linked to a
// different user: the conditional update then touches no row.
func upsertProvider(ctx context.Context, tx pgx.Tx, userID string, p *models.AuthProvider, now time.Time) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO user_auth_providers (user_id, provider, provider_id, provider_email, access_token,
			refresh_token, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, provider_id) DO UPDATE
		SET provider_email = EXCLUDED.provider_email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
		WHERE user_auth_providers.user_id = EXCLUDED.user_id`,
		userID, string(p.Provider), p.ProviderID, p.ProviderEmail, p.AccessToken,
		p.RefreshToken, p.ExpiresAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return &models.ConflictError{Field: "auth_provider", Constraint: database.ConstraintAuthProvider}
	}
	return nil
}

func upsertDevice(ctx context.Context, db database.DBTX, userID string, d *models.Device, now time.Time) error {
	if d.DeviceType == "" {
		d.DeviceType = models.DeviceTypeWeb
	}
	d.IsActive = true
	d.LastUsedAt = now
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}

	_, err := db.Exec(ctx, `
		INSERT INTO user_devices (user_id, device_token, device_type, device_name, is_active, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		ON CONFLICT (user_id, device_token) DO UPDATE
		SET device_type = EXCLUDED.device_type,
			device_name = EXCLUDED.device_name,
			is_active = TRUE,
			last_used_at = EXCLUDED.last_used_at`,
		userID, d.DeviceToken, d.DeviceType, d.DeviceName, d.LastUsedAt, d.CreatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// UpsertDevice registers a device for the user in a single statement, so
// concurrent logins from different devices never overwrite each other.
func (r *UserRepository) UpsertDevice(ctx context.Context, userID string, device models.Device) error {
	if err := upsertDevice(ctx, r.db, userID, &device, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// RemoveDevice deletes exactly one device entry. Removing an unknown token is
// not an error.
func (r *UserRepository) RemoveDevice(ctx context.Context, userID, deviceToken string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_devices WHERE user_id = $1 AND device_token = $2`,
		userID, deviceToken)
	if err != nil {
		return false, fmt.Errorf("failed to remove device: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *UserRepository) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET last_seen = $2, status = $3, updated_at = $2 WHERE id = $1`,
		userID, at, models.StatusOnline)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) MarkVerified(ctx context.Context, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = $2 WHERE id = $1`,
		userID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

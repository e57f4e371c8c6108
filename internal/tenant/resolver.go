// Package tenant maps authenticated users to the API keys (tracked
// packages) they own. Every aggregation query is parameterized by the
// resolved key list, never by a bare user id: the event table has no
// foreign key back to the user.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pkgsight/pkgsight/internal/models"
)

// ErrPackageNotFound means the user owns no key for the requested package.
// It is distinct from an empty key list, which is a valid (empty) result.
var ErrPackageNotFound = errors.New("package not found")

// ErrPackageLimitReached means key creation would exceed the tier limit.
var ErrPackageLimitReached = errors.New("package limit reached for subscription tier")

// Resolver answers key-ownership questions against the api_keys table.
type Resolver struct {
	pool *pgxpool.Pool
}

func NewResolver(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// KeysForUser returns the keys the user owns, optionally filtered to one
// package. An empty slice is a valid result and must be treated by callers
// as "empty result set", never as "query unscoped".
func (r *Resolver) KeysForUser(ctx context.Context, userID int64, packageName string) ([]models.APIKey, error) {
	q := `
		SELECT id, user_id, package_name, key, description, is_active, created_at
		FROM api_keys
		WHERE user_id = $1`
	args := []any{userID}
	if packageName != "" {
		q += ` AND package_name = $2`
		args = append(args, packageName)
	}
	q += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanKeys(rows)
}

// ActiveKeysForUser returns only the user's active keys.
func (r *Resolver) ActiveKeysForUser(ctx context.Context, userID int64) ([]models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, package_name, key, description, is_active, created_at
		FROM api_keys
		WHERE user_id = $1 AND is_active
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanKeys(rows)
}

// KeyForPackage returns the user's key for one package, or
// ErrPackageNotFound. This is the only scoping path where absence is an
// error rather than an empty result.
func (r *Resolver) KeyForPackage(ctx context.Context, userID int64, packageName string) (*models.APIKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, package_name, key, description, is_active, created_at
		FROM api_keys
		WHERE user_id = $1 AND package_name = $2`, userID, packageName)

	var k models.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.PackageName, &k.Key, &k.Description, &k.IsActive, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// KeyByToken resolves an api-key token to its row. Used by ingest auth.
func (r *Resolver) KeyByToken(ctx context.Context, token string) (*models.APIKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, package_name, key, description, is_active, created_at
		FROM api_keys
		WHERE key = $1`, token)

	var k models.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.PackageName, &k.Key, &k.Description, &k.IsActive, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// UserByID loads a subscription holder, or nil when the id is unknown.
func (r *Resolver) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, subscription_tier, subscription_status
		FROM users
		WHERE id = $1`, userID)

	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.SubscriptionTier, &u.SubscriptionStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountKeysForUser counts all keys (packages) a user owns.
func (r *Resolver) CountKeysForUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// CreateKey issues a new key for a package, enforcing the tier's package
// limit. The generated token is the public tracking id for the package.
func (r *Resolver) CreateKey(ctx context.Context, userID int64, packageName string, description *string) (*models.APIKey, error) {
	user, err := r.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("user not found")
	}

	count, err := r.CountKeysForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := PackageLimitForTier(user.SubscriptionTier)
	if limit != -1 && count >= int64(limit) {
		return nil, ErrPackageLimitReached
	}

	token := GenerateKey()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys(user_id, package_name, key, description, is_active)
		VALUES ($1,$2,$3,$4,TRUE)
		RETURNING id, user_id, package_name, key, description, is_active, created_at`,
		userID, packageName, token, description)

	var k models.APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.PackageName, &k.Key, &k.Description, &k.IsActive, &k.CreatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

// DeactivateKey disables a key without deleting it. Existing events are
// untouched; they age out via the retention sweep only.
func (r *Resolver) DeactivateKey(ctx context.Context, userID, keyID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND user_id = $2`, keyID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPackageNotFound
	}
	return nil
}

// PackageLimitForTier returns the package (key) count limit for a
// subscription tier. -1 means unlimited. Users without a subscription are
// treated as starter.
func PackageLimitForTier(tier *string) int {
	t := "starter"
	if tier != nil && *tier != "" {
		t = *tier
	}
	switch t {
	case "pro", "enterprise":
		return -1
	default:
		return 1
	}
}

// GenerateKey builds a new public tracking token.
func GenerateKey() string {
	return fmt.Sprintf("pk_%s", uuid.NewString())
}

func scanKeys(rows pgx.Rows) ([]models.APIKey, error) {
	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.PackageName, &k.Key, &k.Description, &k.IsActive, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepo is a flat key/value store for runtime switches. The promotion
// policy reads its mode from here on every booking delete, so flipping the
// key changes behavior without a restart.
type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string

	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", err
	}

	return value, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())

	return err
}

// Bool reads a boolean switch. A missing key or an unparsable value falls
// back to def; only a real database failure is surfaced.
func (r *SettingsRepo) Bool(ctx context.Context, key string, def bool) (bool, error) {
	raw, err := r.Get(ctx, key)

	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return def, nil
		}
		return def, err
	}

	v, parseErr := strconv.ParseBool(raw)

	if parseErr != nil {
		return def, nil
	}

	return v, nil
}

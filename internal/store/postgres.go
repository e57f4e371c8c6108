package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pkgsight/pkgsight/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer: the raw event fact table
// plus the users/api_keys tables read by scoping and retention.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Pool exposes the underlying pool for the repository and job layers.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

// InsertEvent appends one event row. The row is never updated afterwards;
// the ingest handler is responsible for all payload validation.
func (p *PostgresStore) InsertEvent(ctx context.Context, ev *models.Event) error {
	var extraJSON []byte
	if ev.ExtraData != nil {
		b, err := json.Marshal(ev.ExtraData)
		if err != nil {
			return err
		}
		extraJSON = b
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO analytics_events(
			id, api_key, session_id,
			package_name, package_version,
			python_version, python_implementation,
			os_type, os_version, os_release, architecture,
			installation_method, virtual_env, virtual_env_type,
			cpu_count, total_memory_gb, entry_point,
			installation_id, fingerprint_hash, user_identifier,
			extra_data, event_timestamp, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		ev.ID, ev.APIKey, ev.SessionID,
		ev.PackageName, ev.PackageVersion,
		ev.PythonVersion, ev.PythonImplementation,
		ev.OSType, ev.OSVersion, ev.OSRelease, ev.Architecture,
		ev.InstallationMethod, ev.VirtualEnv, ev.VirtualEnvType,
		ev.CPUCount, ev.TotalMemoryGB, ev.EntryPoint,
		ev.InstallationID, ev.FingerprintHash, ev.UserIdentifier,
		extraJSON, ev.EventTimestamp, ev.ReceivedAt,
	)
	return err
}

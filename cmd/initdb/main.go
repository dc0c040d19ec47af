package main

import (
	"context"
	"os"

	"backend-fieldtrack/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Bootstraps the schema on a fresh database. Safe to rerun.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tracking_sessions (
		id UUID PRIMARY KEY,
		job_id TEXT NOT NULL,
		technician_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		current_latitude DOUBLE PRECISION NOT NULL,
		current_longitude DOUBLE PRECISION NOT NULL,
		current_accuracy_m DOUBLE PRECISION NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tracking_sessions_job_status_idx
		ON tracking_sessions (job_id, status)`,
	// one active session per job, enforced where concurrent creates race
	`CREATE UNIQUE INDEX IF NOT EXISTS tracking_sessions_one_active_idx
		ON tracking_sessions (job_id) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS technician_locations (
		technician_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		accuracy_m DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS technician_locations_job_idx
		ON technician_locations (job_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS job_status_updates (
		id UUID PRIMARY KEY,
		job_id TEXT NOT NULL,
		technician_id TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL,
		status_notes TEXT NOT NULL DEFAULT '',
		location_latitude DOUBLE PRECISION,
		location_longitude DOUBLE PRECISION,
		location_accuracy DOUBLE PRECISION,
		location_captured_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS job_status_updates_job_idx
		ON job_status_updates (job_id, created_at)`,
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer pool.Close()

	for _, stmt := range schema {
		if _, err := pool.Exec(context.Background(), stmt); err != nil {
			log.Fatal().Err(err).Msg("schema")
		}
	}
	log.Info().Msg("schema ready")
}

// Package repository wraps the SQL behind the photo mirror ledger.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MirrorStatus enumerates the states of a ledger row.
type MirrorStatus string

const (
	StatusMirrored MirrorStatus = "mirrored"
	StatusFailed   MirrorStatus = "failed"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MirrorRepository records which photos have been copied off-device.
type MirrorRepository struct {
	db  DB
	now func() time.Time
}

// NewMirrorRepository constructs a repository.
func NewMirrorRepository(db DB) *MirrorRepository {
	return &MirrorRepository{db: db, now: time.Now}
}

// IsMirrored reports whether a successful copy of the photo is on record.
func (r *MirrorRepository) IsMirrored(ctx context.Context, id uuid.UUID) (bool, error) {
	var status MirrorStatus
	err := r.db.QueryRow(ctx, `SELECT status FROM photo_mirrors WHERE photo_id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select mirror: %w", err)
	}
	return status == StatusMirrored, nil
}

// MarkMirrored records a completed upload and clears any earlier error.
func (r *MirrorRepository) MarkMirrored(ctx context.Context, id uuid.UUID, bucket, objectKey string, size int64) error {
	now := r.now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO photo_mirrors (photo_id, bucket, object_key, status, size_bytes, attempts, error_message, mirrored_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,1,NULL,$6,$6)
		ON CONFLICT (photo_id) DO UPDATE
		SET bucket=EXCLUDED.bucket,
			object_key=EXCLUDED.object_key,
			status=EXCLUDED.status,
			size_bytes=EXCLUDED.size_bytes,
			attempts=photo_mirrors.attempts+1,
			error_message=NULL,
			mirrored_at=EXCLUDED.mirrored_at,
			updated_at=EXCLUDED.updated_at
	`, id, bucket, objectKey, StatusMirrored, size, now)
	if err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. A photo already mirrored stays so.
func (r *MirrorRepository) MarkFailed(ctx context.Context, id uuid.UUID, bucket, objectKey, msg string) error {
	now := r.now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO photo_mirrors (photo_id, bucket, object_key, status, attempts, error_message, updated_at)
		VALUES ($1,$2,$3,$4,1,$5,$6)
		ON CONFLICT (photo_id) DO UPDATE
		SET attempts=photo_mirrors.attempts+1,
			error_message=EXCLUDED.error_message,
			updated_at=EXCLUDED.updated_at,
			status=CASE WHEN photo_mirrors.status=$7 THEN photo_mirrors.status ELSE EXCLUDED.status END
	`, id, bucket, objectKey, StatusFailed, msg, now, StatusMirrored)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

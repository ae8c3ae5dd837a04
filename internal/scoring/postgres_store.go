package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mbd888/txsentinel/internal/pagination"
)

// PostgresStore persists normalized risk scores in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tx_ai_risk_scores table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tx_ai_risk_scores (
			tx_hash            VARCHAR(66) PRIMARY KEY,
			request_hash       VARCHAR(64) NOT NULL,
			feature_version    VARCHAR(64) NOT NULL,
			normalizer_version VARCHAR(64) NOT NULL,
			model_name         VARCHAR(128) NOT NULL,
			model_version      VARCHAR(64) NOT NULL,
			verdict            VARCHAR(20) NOT NULL CHECK (verdict IN ('normal', 'suspicious', 'security_concern')),
			confidence_overall NUMERIC(4,3) NOT NULL CHECK (confidence_overall >= 0 AND confidence_overall <= 1),
			descriptors        JSONB NOT NULL DEFAULT '[]',
			raw_response       JSONB,
			status             VARCHAR(10) NOT NULL CHECK (status IN ('ok', 'error')),
			error              TEXT,
			requested_at       TIMESTAMPTZ NOT NULL,
			received_at        TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tx_ai_risk_scores_verdict
			ON tx_ai_risk_scores (verdict, received_at DESC);
	`)
	return err
}

// Upsert inserts the score or overwrites the existing record for the hash.
func (s *PostgresStore) Upsert(ctx context.Context, score *NormalizedScore) error {
	descriptorsJSON, err := json.Marshal(score.Descriptors)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptors: %w", err)
	}

	var rawJSON []byte
	if score.RawResponse != nil {
		rawJSON, err = json.Marshal(score.RawResponse)
		if err != nil {
			return fmt.Errorf("failed to marshal raw response: %w", err)
		}
	}

	var errText sql.NullString
	if score.Error != "" {
		errText = sql.NullString{String: score.Error, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tx_ai_risk_scores (
			tx_hash, request_hash, feature_version, normalizer_version,
			model_name, model_version, verdict, confidence_overall,
			descriptors, raw_response, status, error, requested_at, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tx_hash) DO UPDATE SET
			request_hash       = EXCLUDED.request_hash,
			feature_version    = EXCLUDED.feature_version,
			normalizer_version = EXCLUDED.normalizer_version,
			model_name         = EXCLUDED.model_name,
			model_version      = EXCLUDED.model_version,
			verdict            = EXCLUDED.verdict,
			confidence_overall = EXCLUDED.confidence_overall,
			descriptors        = EXCLUDED.descriptors,
			raw_response       = EXCLUDED.raw_response,
			status             = EXCLUDED.status,
			error              = EXCLUDED.error,
			requested_at       = EXCLUDED.requested_at,
			received_at        = EXCLUDED.received_at
	`,
		score.TxHash,
		score.RequestHash,
		score.FeatureVersion,
		score.NormalizerVersion,
		score.ModelName,
		score.ModelVersion,
		string(score.Verdict),
		score.ConfidenceOverall,
		descriptorsJSON,
		rawJSON,
		score.Status,
		errText,
		score.RequestedAt,
		score.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert risk score: %w", err)
	}
	return nil
}

// GetByTxHash returns the stored score for a transaction hash, or
// ErrScoreNotFound when no score has been recorded.
func (s *PostgresStore) GetByTxHash(ctx context.Context, txHash string) (*NormalizedScore, error) {
	var score NormalizedScore
	var descriptorsJSON, rawJSON []byte
	var errText sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT tx_hash, request_hash, feature_version, normalizer_version,
		       model_name, model_version, verdict, confidence_overall,
		       descriptors, raw_response, status, error, requested_at, received_at
		FROM tx_ai_risk_scores
		WHERE tx_hash = $1
	`, txHash).Scan(
		&score.TxHash,
		&score.RequestHash,
		&score.FeatureVersion,
		&score.NormalizerVersion,
		&score.ModelName,
		&score.ModelVersion,
		&score.Verdict,
		&score.ConfidenceOverall,
		&descriptorsJSON,
		&rawJSON,
		&score.Status,
		&errText,
		&score.RequestedAt,
		&score.ReceivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk score: %w", err)
	}

	if err := json.Unmarshal(descriptorsJSON, &score.Descriptors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptors: %w", err)
	}
	if len(rawJSON) > 0 {
		var envelope Envelope
		if err := json.Unmarshal(rawJSON, &envelope); err == nil {
			score.RawResponse = &envelope
		}
	}
	if errText.Valid {
		score.Error = errText.String
	}
	return &score, nil
}

// ListRecent returns scores ordered by received_at descending, filtered by
// verdict when one is given, starting after the cursor position.
func (s *PostgresStore) ListRecent(ctx context.Context, verdict Verdict, limit int, cursor *pagination.Cursor) ([]*NormalizedScore, error) {
	query := `
		SELECT tx_hash, request_hash, feature_version, normalizer_version,
		       model_name, model_version, verdict, confidence_overall,
		       descriptors, raw_response, status, error, requested_at, received_at
		FROM tx_ai_risk_scores
		WHERE ($1 = '' OR verdict = $1)
		  AND ($2::timestamptz IS NULL OR (received_at, tx_hash) < ($2, $3))
		ORDER BY received_at DESC, tx_hash DESC
		LIMIT $4
	`

	var cursorTime sql.NullTime
	cursorID := ""
	if cursor != nil {
		cursorTime = sql.NullTime{Time: cursor.Timestamp, Valid: true}
		cursorID = cursor.ID
	}

	rows, err := s.db.QueryContext(ctx, query, string(verdict), cursorTime, cursorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*NormalizedScore
	for rows.Next() {
		var score NormalizedScore
		var descriptorsJSON, rawJSON []byte
		var errText sql.NullString

		if err := rows.Scan(
			&score.TxHash,
			&score.RequestHash,
			&score.FeatureVersion,
			&score.NormalizerVersion,
			&score.ModelName,
			&score.ModelVersion,
			&score.Verdict,
			&score.ConfidenceOverall,
			&descriptorsJSON,
			&rawJSON,
			&score.Status,
			&errText,
			&score.RequestedAt,
			&score.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan risk score: %w", err)
		}

		_ = json.Unmarshal(descriptorsJSON, &score.Descriptors)
		if len(rawJSON) > 0 {
			var envelope Envelope
			if err := json.Unmarshal(rawJSON, &envelope); err == nil {
				score.RawResponse = &envelope
			}
		}
		if errText.Valid {
			score.Error = errText.String
		}
		result = append(result, &score)
	}
	return result, rows.Err()
}

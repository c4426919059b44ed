// ./internal/state/operations_store.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentfi/ace/internal/types"
)

// RecordOperation appends one operation outcome to the journal.
func RecordOperation(record types.OperationRecord) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO operation_log (
			op_id, kind, identity, amount, outcome, error_text, tx_ref, op_timestamp
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING record_id;
	`

	var recordID int64
	err := DB.QueryRow(
		query,
		record.OpID, string(record.Kind), record.Identity, record.Amount,
		record.Outcome, record.ErrorText, record.TxRef, record.Timestamp,
	).Scan(&recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to record operation: %w", err)
	}

	log.Debug().
		Int64("record_id", recordID).
		Str("op_id", record.OpID).
		Str("kind", string(record.Kind)).
		Str("outcome", record.Outcome).
		Msg("Operation recorded")
	return recordID, nil
}

// GetRecentOperations retrieves recent journal entries, newest first.
func GetRecentOperations(limit int) ([]types.OperationRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 500 {
		limit = 50 // Default limit
	}

	query := `
		SELECT record_id, op_id, kind, identity,
			COALESCE(amount::TEXT, ''), outcome, COALESCE(error_text, ''), COALESCE(tx_ref, ''), op_timestamp
		FROM operation_log
		ORDER BY op_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent operations: %w", err)
	}
	defer rows.Close()

	var records []types.OperationRecord
	for rows.Next() {
		var record types.OperationRecord
		var kind string
		err := rows.Scan(
			&record.RecordID, &record.OpID, &kind, &record.Identity,
			&record.Amount, &record.Outcome, &record.ErrorText, &record.TxRef, &record.Timestamp,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan operation row")
			continue // Skip this row and continue with others
		}
		record.Kind = types.OperationKind(kind)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("operation row iteration failed: %w", err)
	}

	return records, nil
}

// GetOperationsForIdentity retrieves an identity's journal entries, newest first.
func GetOperationsForIdentity(identity string, limit int) ([]types.OperationRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT record_id, op_id, kind, identity,
			COALESCE(amount::TEXT, ''), outcome, COALESCE(error_text, ''), COALESCE(tx_ref, ''), op_timestamp
		FROM operation_log
		WHERE identity = $1
		ORDER BY op_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations for identity %s: %w", identity, err)
	}
	defer rows.Close()

	var records []types.OperationRecord
	for rows.Next() {
		var record types.OperationRecord
		var kind string
		err := rows.Scan(
			&record.RecordID, &record.OpID, &kind, &record.Identity,
			&record.Amount, &record.Outcome, &record.ErrorText, &record.TxRef, &record.Timestamp,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan operation row")
			continue
		}
		record.Kind = types.OperationKind(kind)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("operation row iteration failed: %w", err)
	}

	return records, nil
}

// OperationSummary aggregates journal outcomes per operation kind.
type OperationSummary struct {
	Kind      string `json:"kind"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// GetOperationSummaries aggregates the journal by operation kind.
func GetOperationSummaries() ([]OperationSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT kind,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE outcome = 'ok') AS succeeded,
			COUNT(*) FILTER (WHERE outcome <> 'ok') AS failed
		FROM operation_log
		GROUP BY kind
		ORDER BY kind;
	`

	rows, err := DB.Query(query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query operation summaries: %w", err)
	}
	defer rows.Close()

	var summaries []OperationSummary
	for rows.Next() {
		var summary OperationSummary
		if err := rows.Scan(&summary.Kind, &summary.Total, &summary.Succeeded, &summary.Failed); err != nil {
			log.Error().Err(err).Msg("Failed to scan operation summary row")
			continue
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("operation summary iteration failed: %w", err)
	}

	return summaries, nil
}

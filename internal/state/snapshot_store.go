// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentfi/ace/internal/types"
)

// SaveAccountSnapshot saves a cached view of one agent account.
func SaveAccountSnapshot(snapshot types.AccountSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO account_snapshots (
			identity, principal, debt, credit_limit, available, frozen, active, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		string(snapshot.Identity), snapshot.Principal, snapshot.Debt,
		snapshot.CreditLimit, snapshot.Available, snapshot.Frozen, snapshot.Active,
		snapshot.CapturedAt,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save account snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Str("identity", string(snapshot.Identity)).
		Msg("Account snapshot saved")
	return snapshotID, nil
}

// GetLatestAccountSnapshot returns the most recent cached view for an
// identity, or nil when none exists.
func GetLatestAccountSnapshot(identity string) (*types.AccountSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT identity, principal::TEXT, debt::TEXT, credit_limit::TEXT, available::TEXT,
			frozen, active, captured_at
		FROM account_snapshots
		WHERE identity = $1
		ORDER BY captured_at DESC
		LIMIT 1;
	`

	snapshot := &types.AccountSnapshot{}
	var id string
	row := DB.QueryRow(query, identity)
	err := row.Scan(
		&id, &snapshot.Principal, &snapshot.Debt, &snapshot.CreditLimit, &snapshot.Available,
		&snapshot.Frozen, &snapshot.Active, &snapshot.CapturedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest account snapshot for %s: %w", identity, err)
	}
	snapshot.Identity = types.AgentID(id)

	return snapshot, nil
}

// GetLatestAccountSnapshots returns the most recent cached view per
// identity.
func GetLatestAccountSnapshots() ([]types.AccountSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT DISTINCT ON (identity)
			identity, principal::TEXT, debt::TEXT, credit_limit::TEXT, available::TEXT,
			frozen, active, captured_at
		FROM account_snapshots
		ORDER BY identity, captured_at DESC;
	`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query account snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.AccountSnapshot
	for rows.Next() {
		var snapshot types.AccountSnapshot
		var id string
		err := rows.Scan(
			&id, &snapshot.Principal, &snapshot.Debt, &snapshot.CreditLimit, &snapshot.Available,
			&snapshot.Frozen, &snapshot.Active, &snapshot.CapturedAt,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan account snapshot row")
			continue
		}
		snapshot.Identity = types.AgentID(id)
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account snapshot iteration failed: %w", err)
	}

	return snapshots, nil
}

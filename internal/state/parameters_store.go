// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/agentfi/ace/internal/types"
)

// SaveClearingParameters saves a new version of clearing parameters.
func SaveClearingParameters(params types.ClearingParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE clearing_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO clearing_parameters (
            version, config_name, is_active, activated_at, created_at,
            base_limit, max_limit,
            growth_factor_bp, interest_rate_bp, accrual_interval_seconds,
            rep_factor_min, rep_factor_max, rep_lookback_blocks,
            onboard_poll_interval_ms, onboard_timeout_ms
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7,
            $8, $9, $10,
            $11, $12, $13,
            $14, $15
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		params.BaseLimit.String(), params.MaxLimit.String(),
		params.GrowthFactorBP, params.InterestRateBP, int64(params.AccrualInterval/time.Second),
		params.RepFactorMin, params.RepFactorMax, int64(params.RepLookbackBlocks),
		params.OnboardPollInterval.Milliseconds(), params.OnboardTimeout.Milliseconds(),
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert clearing parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved clearing parameters")
	return paramsID, nil
}

// LoadActiveClearingParameters loads the currently active clearing parameters.
func LoadActiveClearingParameters(configName string) (*types.ClearingParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT
            base_limit, max_limit,
            growth_factor_bp, interest_rate_bp, accrual_interval_seconds,
            rep_factor_min, rep_factor_max, rep_lookback_blocks,
            onboard_poll_interval_ms, onboard_timeout_ms
        FROM clearing_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var (
		baseLimitStr, maxLimitStr string
		accrualSeconds            int64
		lookbackBlocks            int64
		pollMillis, timeoutMillis int64
	)
	p := &types.ClearingParameters{}
	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&baseLimitStr, &maxLimitStr,
		&p.GrowthFactorBP, &p.InterestRateBP, &accrualSeconds,
		&p.RepFactorMin, &p.RepFactorMax, &lookbackBlocks,
		&pollMillis, &timeoutMillis,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active clearing parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan active clearing parameters for config '%s': %w", configName, err)
	}

	baseLimit, ok := sdkmath.NewIntFromString(baseLimitStr)
	if !ok {
		return nil, fmt.Errorf("stored base_limit %q is not a valid integer", baseLimitStr)
	}
	maxLimit, ok := sdkmath.NewIntFromString(maxLimitStr)
	if !ok {
		return nil, fmt.Errorf("stored max_limit %q is not a valid integer", maxLimitStr)
	}
	p.BaseLimit = baseLimit
	p.MaxLimit = maxLimit
	p.AccrualInterval = time.Duration(accrualSeconds) * time.Second
	p.RepLookbackBlocks = uint64(lookbackBlocks)
	p.OnboardPollInterval = time.Duration(pollMillis) * time.Millisecond
	p.OnboardTimeout = time.Duration(timeoutMillis) * time.Millisecond

	log.Info().Str("config", configName).Msg("Loaded active clearing parameters")
	return p, nil
}

// GetActiveClearingParametersID returns the params_id of the currently active clearing parameters
func GetActiveClearingParametersID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT params_id
        FROM clearing_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var paramsID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&paramsID)

	if err != nil {
		if err == sql.ErrNoRows {
			// No active parameters found - this is valid, return nil
			log.Debug().Str("config", configName).Msg("No active clearing parameters found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active clearing parameters ID for config '%s': %w", configName, err)
	}

	log.Debug().
		Str("config", configName).
		Int64("params_id", paramsID).
		Msg("Retrieved active clearing parameters ID")

	return &paramsID, nil
}

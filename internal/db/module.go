package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modulab/foreman/internal/foreman"
)

const moduleColumns = `module_id, name, description, priority, module_hash, alive,
	session_id, last_login_time, last_alive_time, last_execution_time,
	input_data, output_data`

// CreateModule stores a new module row.
func (d *DB) CreateModule(ctx context.Context, m *foreman.Module) error {
	inputJSON, _ := json.Marshal(m.InputData)
	outputJSON, _ := json.Marshal(m.OutputData)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO modules (`+moduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ModuleID, m.Name, m.Description, m.Priority, m.ModuleHash, m.Alive,
		nullString(m.SessionID), m.LastLoginTime, m.LastAliveTime, m.LastExecutionTime,
		inputJSON, outputJSON,
	)
	if err != nil {
		return fmt.Errorf("insert module: %w", err)
	}
	return nil
}

// UpdateModule rewrites a module row identified by module_hash.
func (d *DB) UpdateModule(ctx context.Context, m *foreman.Module) error {
	inputJSON, _ := json.Marshal(m.InputData)
	outputJSON, _ := json.Marshal(m.OutputData)

	_, err := d.Pool.ExecContext(ctx,
		`UPDATE modules SET name = $1, description = $2, priority = $3, alive = $4,
		        session_id = $5, last_login_time = $6, last_alive_time = $7,
		        last_execution_time = $8, input_data = $9, output_data = $10
		 WHERE module_hash = $11`,
		m.Name, m.Description, m.Priority, m.Alive,
		nullString(m.SessionID), m.LastLoginTime, m.LastAliveTime,
		m.LastExecutionTime, inputJSON, outputJSON, m.ModuleHash,
	)
	if err != nil {
		return fmt.Errorf("update module: %w", err)
	}
	return nil
}

// GetModuleByHash retrieves one module by its hash.
func (d *DB) GetModuleByHash(ctx context.Context, moduleHash string) (*foreman.Module, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE module_hash = $1`, moduleHash)
	return d.scanModule(row)
}

// ListModules returns all modules ordered by module_id.
func (d *DB) ListModules(ctx context.Context) ([]*foreman.Module, error) {
	return d.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules ORDER BY module_id`)
}

// ListAliveModules returns all modules currently marked alive.
func (d *DB) ListAliveModules(ctx context.Context) ([]*foreman.Module, error) {
	return d.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE alive = true ORDER BY module_id`)
}

func (d *DB) queryModules(ctx context.Context, query string, args ...any) ([]*foreman.Module, error) {
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	var result []*foreman.Module
	for rows.Next() {
		m, err := d.scanModule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) scanModule(row rowScanner) (*foreman.Module, error) {
	m := &foreman.Module{}
	var sessionID sql.NullString
	var lastLogin, lastAlive, lastExecution sql.NullTime
	var inputJSON, outputJSON []byte

	err := row.Scan(&m.ModuleID, &m.Name, &m.Description, &m.Priority, &m.ModuleHash, &m.Alive,
		&sessionID, &lastLogin, &lastAlive, &lastExecution, &inputJSON, &outputJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan module: %w", err)
	}

	m.SessionID = sessionID.String
	if lastLogin.Valid {
		m.LastLoginTime = d.localTime(&lastLogin.Time)
	}
	if lastAlive.Valid {
		m.LastAliveTime = d.localTime(&lastAlive.Time)
	}
	if lastExecution.Valid {
		m.LastExecutionTime = d.localTime(&lastExecution.Time)
	}
	decodeJSON(inputJSON, &m.InputData, "input_data", m.ModuleHash)
	decodeJSON(outputJSON, &m.OutputData, "output_data", m.ModuleHash)
	return m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package store provides ServerStore implementations. The MySQL store is the
// production backend; the memory store backs tests and configuration-driven
// fleets that have no database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// MySQLStore persists GameServer records in MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against the given DSN and verifies
// connectivity. ParseTime is forced on so DATETIME columns scan into
// time.Time regardless of the DSN's own parameters.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

const serverColumns = `id, name, host, query_port, ssh_address, ssh_user, ssh_password, ssh_key_file,
	mode, status, check_interval_seconds, failure_threshold, auto_restart,
	process_pattern, restart_command, last_check`

// GetServer returns the server with the given ID, or ErrServerNotFound.
func (s *MySQLStore) GetServer(ctx context.Context, id string) (*types.GameServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)

	server, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server %s: %w", id, err)
	}
	return server, nil
}

// ListServers returns all known servers.
func (s *MySQLStore) ListServers(ctx context.Context) ([]types.GameServer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []types.GameServer
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server row: %w", err)
		}
		servers = append(servers, *server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate server rows: %w", err)
	}
	return servers, nil
}

// UpdateStatus persists a new status for the server.
func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, status types.ServerStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE servers SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update status for server %s: %w", id, err)
	}
	return checkAffected(result)
}

// TouchLastCheck records when the server was last checked.
func (s *MySQLStore) TouchLastCheck(ctx context.Context, id string, t time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE servers SET last_check = ? WHERE id = ?`, t, id)
	if err != nil {
		return fmt.Errorf("failed to update last check for server %s: %w", id, err)
	}
	return checkAffected(result)
}

// Ping verifies database connectivity.
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return types.ErrServerNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row scanner) (*types.GameServer, error) {
	// Every text column other than id is nullable in practice; scan through
	// Null types so a NULL never fails the row.
	var (
		server     types.GameServer
		name       sql.NullString
		host       sql.NullString
		sshAddress sql.NullString
		sshUser    sql.NullString
		sshPass    sql.NullString
		mode       sql.NullString
		status     sql.NullString
		interval   sql.NullInt64
		threshold  sql.NullInt64
		keyFile    sql.NullString
		pattern    sql.NullString
		restart    sql.NullString
		lastCheck  sql.NullTime
	)

	err := row.Scan(
		&server.ID, &name, &host, &server.QueryPort,
		&sshAddress, &sshUser, &sshPass, &keyFile,
		&mode, &status, &interval, &threshold, &server.AutoRestart,
		&pattern, &restart, &lastCheck,
	)
	if err != nil {
		return nil, err
	}

	server.Name = name.String
	server.Host = host.String
	server.SSHAddress = sshAddress.String
	server.SSHUser = sshUser.String
	server.SSHPassword = sshPass.String
	server.Mode = types.MonitorMode(mode.String)
	server.Status = types.ServerStatus(status.String)
	server.SSHKeyFile = keyFile.String
	server.ProcessPattern = pattern.String
	server.RestartCommand = restart.String
	if interval.Valid {
		server.CheckIntervalSeconds = int(interval.Int64)
	}
	if threshold.Valid {
		server.FailureThreshold = int(threshold.Int64)
	}
	if lastCheck.Valid {
		server.LastCheck = lastCheck.Time
	}
	return &server, nil
}

var _ types.ServerStore = (*MySQLStore)(nil)

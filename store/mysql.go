// Package store provides UserStore implementations for go-httpd.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/semaphore"
)

// MySQL backs the login/register form with a MySQL user table. Checkouts
// from the pool are gated by a semaphore sized to the pool, so a burst of
// form POSTs queues instead of stacking connections.
type MySQL struct {
	db  *sql.DB
	sem *semaphore.Weighted
}

// Config holds the MySQL connection parameters.
type Config struct {
	Addr     string // host:port
	User     string
	Password string
	Database string
	PoolSize int
}

// NewMySQL opens the pool and verifies connectivity.
func NewMySQL(cfg Config) (*MySQL, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", cfg.User, cfg.Password, cfg.Addr, cfg.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect mysql %s: %w", cfg.Addr, err)
	}
	return &MySQL{
		db:  db,
		sem: semaphore.NewWeighted(int64(cfg.PoolSize)),
	}, nil
}

// Login reports whether name exists with a matching password.
func (s *MySQL) Login(ctx context.Context, name, password string) (bool, error) {
	if name == "" || password == "" {
		return false, nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.sem.Release(1)

	var stored string
	err := s.db.QueryRowContext(ctx,
		"SELECT password FROM user WHERE username = ? LIMIT 1", name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user %q: %w", name, err)
	}
	return stored == password, nil
}

// Register creates the user if the name is unused.
func (s *MySQL) Register(ctx context.Context, name, password string) (bool, error) {
	if name == "" || password == "" {
		return false, nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.sem.Release(1)

	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT username FROM user WHERE username = ? LIMIT 1", name).Scan(&existing)
	switch {
	case err == nil:
		// name taken
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("query user %q: %w", name, err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO user(username, password) VALUES(?, ?)", name, password); err != nil {
		return false, fmt.Errorf("insert user %q: %w", name, err)
	}
	return true, nil
}

// Close shuts the pool down.
func (s *MySQL) Close() error {
	return s.db.Close()
}

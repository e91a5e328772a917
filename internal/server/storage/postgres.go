package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DB struct {
	*sqlx.DB
}

func NewPostgresDB(dbURL string) (*DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// PostgresStore is the Store backed by PostgreSQL
type PostgresStore struct {
	db       *DB
	devices  *DeviceRepository
	vouchers *VoucherRepository
}

func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		db:       db,
		devices:  NewDeviceRepository(db),
		vouchers: NewVoucherRepository(db),
	}
}

func (s *PostgresStore) Devices() DeviceStore   { return s.devices }
func (s *PostgresStore) Vouchers() VoucherStore { return s.vouchers }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

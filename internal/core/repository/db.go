package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/go-clickhouse/ch"

	"github.com/kdimentionaltree/ton-index-worker/internal/core"
)

type DB struct {
	CH *ch.DB
	PG *bun.DB
}

func (db *DB) Close() {
	_ = db.CH.Close()
	_ = db.PG.Close()
}

func ConnectDB(ctx context.Context, dsnCH, dsnPG string, opts ...ch.Option) (*DB, error) {
	var err error

	opts = append(opts, ch.WithDSN(dsnCH), ch.WithAutoCreateDatabase(true), ch.WithPoolSize(16))
	chDB := ch.Connect(opts...)

	for i := 0; i < 8; i++ { // wait for ch start
		err = chDB.Ping(ctx)
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot ping ch")
	}

	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsnPG), pgdriver.WithWriteTimeout(time.Minute)))
	pgDB := bun.NewDB(sqlDB, pgdialect.New())

	for i := 0; i < 8; i++ { // wait for pg start
		err = pgDB.Ping()
		if err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot ping pg")
	}

	return &DB{CH: chDB, PG: pgDB}, nil
}

// CreateTables bootstraps both stores. Safe to call on every start.
func CreateTables(ctx context.Context, db *DB) error {
	_, err := db.PG.ExecContext(ctx, "CREATE TYPE account_status AS ENUM (?, ?, ?, ?)",
		core.Uninit, core.Active, core.Frozen, core.NonExist)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return errors.Wrap(err, "account status pg create enum")
	}

	_, err = db.PG.ExecContext(ctx, "CREATE TYPE message_type AS ENUM (?, ?, ?)",
		core.Internal, core.ExternalIn, core.ExternalOut)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return errors.Wrap(err, "message type pg create enum")
	}

	pgModels := []any{
		&core.Block{},
		&core.Transaction{},
		&core.Message{},
		&core.AccountState{},
		&core.JettonMaster{},
		&core.JettonWallet{},
		&core.NFTCollection{},
		&core.NFTItem{},
		&core.JettonTransfer{},
		&core.JettonBurn{},
		&core.NFTTransfer{},
		&scannerCheckpoint{},
	}
	for _, m := range pgModels {
		if _, err := db.PG.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrapf(err, "pg create table for %T", m)
		}
	}

	chModels := []any{
		&core.Block{},
		&core.Transaction{},
		&core.Message{},
		&core.AccountState{},
		&core.JettonMaster{},
		&core.JettonWallet{},
		&core.NFTCollection{},
		&core.NFTItem{},
		&core.JettonTransfer{},
		&core.JettonBurn{},
		&core.NFTTransfer{},
	}
	for _, m := range chModels {
		if _, err := db.CH.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrapf(err, "ch create table for %T", m)
		}
	}

	return nil
}

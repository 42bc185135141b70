package main

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/repository/memstore"
	"github.com/iliyamo/auth-service/internal/service"
)

// stores bundles the persistence layer selected by DB_DRIVER. db is nil
// for the in-memory driver.
type stores struct {
	db     *sql.DB
	users  service.UserStore
	tokens service.TokenStore
	otps   service.OTPStore
}

func (s stores) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if cfg.DBDriver == config.MemoryDriver {
		return nil, fmt.Errorf("DB_DRIVER=%s has no database to operate on", cfg.DBDriver)
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return db, nil
}

func openStores(cfg config.Config, log *zap.Logger) (stores, error) {
	if cfg.DBDriver == config.MemoryDriver {
		log.Warn("using in-memory store; state is lost on restart")
		m := memstore.New()
		return stores{users: m.Users(), tokens: m.Tokens(), otps: m.OTPs()}, nil
	}

	db, err := openDB(cfg)
	if err != nil {
		return stores{}, err
	}
	if cfg.Migrate {
		applied, err := database.MigrateUp(db)
		if err != nil {
			_ = db.Close()
			return stores{}, err
		}
		log.Info("migrations checked", zap.Bool("applied", applied))
	}
	return stores{
		db:     db,
		users:  repository.NewUserRepo(db),
		tokens: repository.NewTokenRepo(db),
		otps:   repository.NewOTPRepo(db),
	}, nil
}

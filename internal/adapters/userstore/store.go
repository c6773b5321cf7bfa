// Package userstore keeps accounts in sqlite through gorm.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dkeye/strealome/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrInvalidName = errors.New("invalid user name")

type account struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:36;not null"`
	CreatedAt time.Time
}

func (account) TableName() string { return "users" }

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	// sqlite allows one writer; :memory: databases are per connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&account{}); err != nil {
		return nil, fmt.Errorf("migrate user store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Lookup(ctx context.Context, id domain.UserID) (domain.User, error) {
	var a account
	if err := s.db.WithContext(ctx).First(&a, "id = ?", int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("lookup user %d: %w", id, err)
	}
	return domain.User{ID: domain.UserID(a.ID), Name: a.Name}, nil
}

// Create registers a new account under name.
func (s *Store) Create(ctx context.Context, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > domain.MaxUsernameLen {
		return domain.User{}, ErrInvalidName
	}
	a := account{Name: name}
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	log.Info().Str("module", "userstore").Int64("user", a.ID).Msg("user created")
	return domain.User{ID: domain.UserID(a.ID), Name: a.Name}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

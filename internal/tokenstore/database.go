package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("tokenstore.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("tokenstore.empty_database_url")
	errSQLiteEmptyPath     = errors.New("tokenstore.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("tokenstore.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("tokenstore.unsupported_no_scheme")
)

// DatabaseStore persists rotating refresh tokens using GORM, resolving the
// driver from the database URL scheme (postgres or sqlite).
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

type refreshTokenRow struct {
	TokenID       string `gorm:"column:token_id;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	TokenHash     string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null"`
	RevokedAtUnix int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	RotatedFrom   string `gorm:"column:rotated_from;not null;default:''"`
	IssuedAtUnix  int64  `gorm:"column:issued_at_unix;not null"`
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

// NewDatabaseStore constructs a GORM-backed store and migrates its table.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("tokenstore.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("tokenstore.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&refreshTokenRow{}); migrateErr != nil {
		return nil, fmt.Errorf("tokenstore.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue inserts a new refresh token row and returns its identifiers.
func (store *DatabaseStore) Issue(ctx context.Context, userID string, expiresAt time.Time, rotatedFrom string) (string, string, error) {
	now := store.now()
	opaque, hashValue, randomErr := generateOpaque()
	if randomErr != nil {
		return "", "", fmt.Errorf("tokenstore.issue.%s: %w", store.driverLabel, randomErr)
	}
	row := refreshTokenRow{
		TokenID:      newTokenID(now),
		UserID:       userID,
		TokenHash:    hashValue,
		ExpiresUnix:  expiresAt.Unix(),
		RotatedFrom:  rotatedFrom,
		IssuedAtUnix: now.Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", "", fmt.Errorf("tokenstore.issue.%s: %w", store.driverLabel, err)
	}
	return row.TokenID, opaque, nil
}

// Validate locates a refresh token by its opaque value.
func (store *DatabaseStore) Validate(ctx context.Context, opaque string) (Token, error) {
	if strings.TrimSpace(opaque) == "" {
		return Token{}, fmt.Errorf("tokenstore.validate.%s: %w", store.driverLabel, ErrEmptyOpaque)
	}
	var row refreshTokenRow
	err := store.db.WithContext(ctx).Where("token_hash = ?", hashOpaque(opaque)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Token{}, fmt.Errorf("tokenstore.validate.%s: %w", store.driverLabel, ErrNotFound)
		}
		return Token{}, fmt.Errorf("tokenstore.validate.%s: %w", store.driverLabel, err)
	}
	if row.RevokedAtUnix != 0 {
		return Token{}, fmt.Errorf("tokenstore.validate.%s: %w", store.driverLabel, ErrRevoked)
	}
	expiresAt := time.Unix(row.ExpiresUnix, 0).UTC()
	if expiresAt.Before(store.now()) {
		return Token{}, fmt.Errorf("tokenstore.validate.%s: %w", store.driverLabel, ErrExpired)
	}
	return Token{
		ID:          row.TokenID,
		UserID:      row.UserID,
		ExpiresAt:   expiresAt,
		RotatedFrom: row.RotatedFrom,
	}, nil
}

// Revoke marks a refresh token as revoked.
func (store *DatabaseStore) Revoke(ctx context.Context, tokenID string) error {
	result := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("token_id = ? AND revoked_at_unix = 0", tokenID).
		Update("revoked_at_unix", store.now().Unix())
	if result.Error != nil {
		return fmt.Errorf("tokenstore.revoke.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		var row refreshTokenRow
		findErr := store.db.WithContext(ctx).Where("token_id = ?", tokenID).Take(&row).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("tokenstore.revoke.%s: %w", store.driverLabel, ErrNotFound)
		}
		if findErr != nil {
			return fmt.Errorf("tokenstore.revoke.%s: %w", store.driverLabel, findErr)
		}
		if row.RevokedAtUnix != 0 {
			return fmt.Errorf("tokenstore.revoke.%s: %w", store.driverLabel, ErrAlreadyRevoked)
		}
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("tokenstore.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("tokenstore.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("tokenstore.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("tokenstore.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}

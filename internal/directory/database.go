package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mprlab/authbridge/internal/authkit"
)

// DatabaseDirectory persists users with GORM over postgres or sqlite,
// selected by the database URL scheme.
type DatabaseDirectory struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
	cost        int
}

type userRow struct {
	UserID        string `gorm:"column:user_id;primaryKey"`
	Email         string `gorm:"column:email;uniqueIndex;not null"`
	DisplayName   string `gorm:"column:display_name;not null;default:''"`
	AvatarURL     string `gorm:"column:avatar_url;not null;default:''"`
	PasswordHash  []byte `gorm:"column:password_hash;not null"`
	RolesCSV      string `gorm:"column:roles_csv;not null;default:''"`
	PermsCSV      string `gorm:"column:perms_csv;not null;default:''"`
	MetadataJSON  string `gorm:"column:metadata_json;not null;default:''"`
	EmailVerified bool   `gorm:"column:email_verified;not null;default:false"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (userRow) TableName() string {
	return "auth_users"
}

// NewDatabaseDirectory opens the database and migrates the users table.
func NewDatabaseDirectory(ctx context.Context, databaseURL string) (*DatabaseDirectory, error) {
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("directory.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRow{}); migrateErr != nil {
		return nil, fmt.Errorf("directory.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseDirectory{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         func() time.Time { return time.Now().UTC() },
		cost:        bcrypt.DefaultCost,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseDirectory) Driver() string {
	return store.driverLabel
}

// Authenticate verifies the identifier/password pair.
func (store *DatabaseDirectory) Authenticate(ctx context.Context, identifier string, password string) (*authkit.User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(identifier)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory.authenticate.%s: %w", store.driverLabel, err)
	}
	if compareErr := bcrypt.CompareHashAndPassword(row.PasswordHash, []byte(password)); compareErr != nil {
		return nil, ErrBadPassword
	}
	return rowToUser(row)
}

// Create registers a new user.
func (store *DatabaseDirectory) Create(ctx context.Context, newUser NewUser) (*authkit.User, error) {
	email := normalizeEmail(newUser.Email)
	var existing int64
	if countErr := store.db.WithContext(ctx).Model(&userRow{}).Where("email = ?", email).Count(&existing).Error; countErr != nil {
		return nil, fmt.Errorf("directory.create.%s: %w", store.driverLabel, countErr)
	}
	if existing > 0 {
		return nil, ErrExists
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(newUser.Password), store.cost)
	if hashErr != nil {
		return nil, fmt.Errorf("directory.create.%s: %w", store.driverLabel, hashErr)
	}
	roles := newUser.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	metadataJSON := ""
	if newUser.Metadata != nil {
		encoded, encodeErr := json.Marshal(newUser.Metadata)
		if encodeErr != nil {
			return nil, fmt.Errorf("directory.create.%s: %w", store.driverLabel, encodeErr)
		}
		metadataJSON = string(encoded)
	}
	now := store.now().Unix()
	row := userRow{
		UserID:        uuid.NewString(),
		Email:         email,
		DisplayName:   newUser.DisplayName,
		PasswordHash:  passwordHash,
		RolesCSV:      strings.Join(roles, ","),
		PermsCSV:      strings.Join(newUser.Permissions, ","),
		MetadataJSON:  metadataJSON,
		EmailVerified: false,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		return nil, fmt.Errorf("directory.create.%s: %w", store.driverLabel, createErr)
	}
	return rowToUser(row)
}

// Lookup returns the user by id.
func (store *DatabaseDirectory) Lookup(ctx context.Context, userID string) (*authkit.User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory.lookup.%s: %w", store.driverLabel, err)
	}
	return rowToUser(row)
}

// FindByEmail returns the user registered under the email.
func (store *DatabaseDirectory) FindByEmail(ctx context.Context, email string) (*authkit.User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory.find_by_email.%s: %w", store.driverLabel, err)
	}
	return rowToUser(row)
}

// Update applies the non-nil fields of the partial update.
func (store *DatabaseDirectory) Update(ctx context.Context, userID string, update authkit.UserUpdate) (*authkit.User, error) {
	var row userRow
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory.update.%s: %w", store.driverLabel, err)
	}
	if update.Email != nil {
		newEmail := normalizeEmail(*update.Email)
		var taken int64
		if countErr := store.db.WithContext(ctx).Model(&userRow{}).
			Where("email = ? AND user_id <> ?", newEmail, userID).Count(&taken).Error; countErr != nil {
			return nil, fmt.Errorf("directory.update.%s: %w", store.driverLabel, countErr)
		}
		if taken > 0 {
			return nil, ErrExists
		}
		row.Email = newEmail
	}
	if update.DisplayName != nil {
		row.DisplayName = *update.DisplayName
	}
	if update.AvatarURL != nil {
		row.AvatarURL = *update.AvatarURL
	}
	if update.Password != nil {
		passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(*update.Password), store.cost)
		if hashErr != nil {
			return nil, fmt.Errorf("directory.update.%s: %w", store.driverLabel, hashErr)
		}
		row.PasswordHash = passwordHash
	}
	if update.Metadata != nil {
		encoded, encodeErr := json.Marshal(update.Metadata)
		if encodeErr != nil {
			return nil, fmt.Errorf("directory.update.%s: %w", store.driverLabel, encodeErr)
		}
		row.MetadataJSON = string(encoded)
	}
	row.UpdatedAtUnix = store.now().Unix()
	if saveErr := store.db.WithContext(ctx).Save(&row).Error; saveErr != nil {
		return nil, fmt.Errorf("directory.update.%s: %w", store.driverLabel, saveErr)
	}
	return rowToUser(row)
}

// Delete removes the user row.
func (store *DatabaseDirectory) Delete(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&userRow{})
	if result.Error != nil {
		return fmt.Errorf("directory.delete.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEmailVerified flips the verification flag after a confirmation flow.
func (store *DatabaseDirectory) MarkEmailVerified(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"email_verified": true, "updated_at_unix": store.now().Unix()})
	if result.Error != nil {
		return fmt.Errorf("directory.verify.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func rowToUser(row userRow) (*authkit.User, error) {
	user := &authkit.User{
		ID:            row.UserID,
		Email:         row.Email,
		DisplayName:   row.DisplayName,
		AvatarURL:     row.AvatarURL,
		Roles:         splitCSV(row.RolesCSV),
		Permissions:   splitCSV(row.PermsCSV),
		EmailVerified: row.EmailVerified,
		CreatedAt:     time.Unix(row.CreatedAtUnix, 0).UTC(),
		UpdatedAt:     time.Unix(row.UpdatedAtUnix, 0).UTC(),
	}
	if row.MetadataJSON != "" {
		if decodeErr := json.Unmarshal([]byte(row.MetadataJSON), &user.Metadata); decodeErr != nil {
			return nil, fmt.Errorf("directory.decode_metadata: %w", decodeErr)
		}
	}
	user.Normalize()
	return user, nil
}

func splitCSV(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, ",")
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	trimmed := strings.TrimSpace(databaseURL)
	if trimmed == "" {
		return nil, "", errors.New("directory.open: empty database url")
	}
	lowered := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lowered, "postgres://"), strings.HasPrefix(lowered, "postgresql://"):
		return postgres.Open(trimmed), "postgres", nil
	case strings.HasPrefix(lowered, "sqlite://"):
		return sqliteDialector.Open(strings.TrimPrefix(trimmed, "sqlite://")), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("directory.open: unsupported database url %q", databaseURL)
	}
}

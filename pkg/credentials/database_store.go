package credentials

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
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credentials.database.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("credentials.database.empty_database_url")
	errSQLiteEmptyPath     = errors.New("credentials.database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credentials.database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credentials.database.unsupported_no_scheme")
)

// DatabaseBackend persists credential pairs using GORM.
type DatabaseBackend struct {
	db          *gorm.DB
	driverLabel string
	profile     string
}

type credentialRecord struct {
	Profile       string `gorm:"column:profile;primaryKey"`
	AccessToken   string `gorm:"column:access_token;not null;default:''"`
	RefreshToken  string `gorm:"column:refresh_token;not null;default:''"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (credentialRecord) TableName() string {
	return "client_credentials"
}

// NewDatabaseBackend opens the database behind databaseURL and migrates the credential table.
func NewDatabaseBackend(ctx context.Context, databaseURL string, profile string) (*DatabaseBackend, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credentials.database.open: %w", errEmptyDatabaseURL)
	}
	if strings.TrimSpace(profile) == "" {
		return nil, fmt.Errorf("credentials.database.open: %w", ErrEmptyProfile)
	}
	dialector, driverLabel, err := ResolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("credentials.database.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credentials.database.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseBackend{
		db:          gormDB,
		driverLabel: driverLabel,
		profile:     profile,
	}, nil
}

// NewDatabaseStore constructs a Store persisted through GORM.
func NewDatabaseStore(ctx context.Context, databaseURL string, profile string) (*BackendStore, error) {
	backend, err := NewDatabaseBackend(ctx, databaseURL, profile)
	if err != nil {
		return nil, err
	}
	return FromBackend(backend)
}

// Driver exposes the selected database driver label.
func (backend *DatabaseBackend) Driver() string {
	return backend.driverLabel
}

// Load returns the pair stored for the profile, or an empty pair when absent.
func (backend *DatabaseBackend) Load(ctx context.Context) (Pair, error) {
	var record credentialRecord
	err := backend.db.WithContext(ctx).Where("profile = ?", backend.profile).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("credentials.database.load.%s: %w", backend.driverLabel, err)
	}
	return Pair{AccessToken: record.AccessToken, RefreshToken: record.RefreshToken}, nil
}

// Save upserts the pair for the profile.
func (backend *DatabaseBackend) Save(ctx context.Context, pair Pair) error {
	record := credentialRecord{
		Profile:       backend.profile,
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := backend.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("credentials.database.save.%s: %w", backend.driverLabel, err)
	}
	return nil
}

// Delete removes the profile row.
func (backend *DatabaseBackend) Delete(ctx context.Context) error {
	err := backend.db.WithContext(ctx).Where("profile = ?", backend.profile).Delete(&credentialRecord{}).Error
	if err != nil {
		return fmt.Errorf("credentials.database.delete.%s: %w", backend.driverLabel, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (backend *DatabaseBackend) Close() error {
	sqlDB, err := backend.db.DB()
	if err != nil {
		return fmt.Errorf("credentials.database.close.%s: %w", backend.driverLabel, err)
	}
	return sqlDB.Close()
}

// ResolveDialector maps a postgres:// or sqlite:// URL to a GORM dialector and a driver label.
func ResolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credentials.database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credentials.database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credentials.database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credentials.database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
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

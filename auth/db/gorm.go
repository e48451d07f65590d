// Package db provides the GORM and Redis connections used by chatd.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/insurge/chatd/internal/slogging"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType selects the GORM dialector.
type DatabaseType string

const (
	DatabaseTypePostgres  DatabaseType = "postgres"
	DatabaseTypeMySQL     DatabaseType = "mysql"
	DatabaseTypeSQLServer DatabaseType = "sqlserver"
	DatabaseTypeSQLite    DatabaseType = "sqlite"
)

// GormConfig holds the connection settings for whichever database
// backs the chat store.
type GormConfig struct {
	Type DatabaseType

	// PostgreSQL
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDatabase string
	PostgresSSLMode  string

	// MySQL / SQL Server share the host/port/user form
	SQLHost     string
	SQLPort     string
	SQLUser     string
	SQLPassword string
	SQLDatabase string

	// SQLite file path, or ":memory:"
	SQLitePath string
}

func (c GormConfig) dialector() (gorm.Dialector, error) {
	switch c.Type {
	case DatabaseTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.PostgresHost, c.PostgresPort, c.PostgresUser,
			c.PostgresPassword, c.PostgresDatabase, c.PostgresSSLMode,
		)
		return postgres.Open(dsn), nil
	case DatabaseTypeMySQL:
		// parseTime=true so DATETIME columns scan into time.Time
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
			c.SQLUser, c.SQLPassword, c.SQLHost, c.SQLPort, c.SQLDatabase)
		return mysql.Open(dsn), nil
	case DatabaseTypeSQLServer:
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
			c.SQLUser, c.SQLPassword, c.SQLHost, c.SQLPort, c.SQLDatabase)
		return sqlserver.Open(dsn), nil
	case DatabaseTypeSQLite:
		return sqlite.Open(c.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

// GormDB wraps a GORM connection to any of the supported dialects.
type GormDB struct {
	db  *gorm.DB
	cfg GormConfig
}

// NewGormDB opens, configures, and pings a database connection.
// TranslateError is enabled so duplicate-key violations surface as
// gorm.ErrDuplicatedKey on every dialect.
func NewGormDB(cfg GormConfig) (*GormDB, error) {
	log := slogging.Get()

	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}
	log.Debug("Opening %s database connection", cfg.Type)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &queryLogger{log: log},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Recycle connections before managed databases kill them
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(4 * time.Minute)
	sqlDB.SetConnMaxIdleTime(30 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Debug("Database connection established (%s)", cfg.Type)

	return &GormDB{db: db, cfg: cfg}, nil
}

// Close closes the underlying connection pool.
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the GORM handle.
func (g *GormDB) DB() *gorm.DB {
	return g.db
}

// DatabaseType returns the configured database type.
func (g *GormDB) DatabaseType() DatabaseType {
	return g.cfg.Type
}

// Ping reports whether the database connection is alive.
func (g *GormDB) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// queryLogger adapts our logger to GORM's logger interface.
type queryLogger struct {
	log *slogging.Logger
}

func (l *queryLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l *queryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	l.log.Info(msg, data...)
}

func (l *queryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	l.log.Warn(msg, data...)
}

func (l *queryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	l.log.Error(msg, data...)
}

func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, rows := fc()
	elapsed := time.Since(begin)
	if err != nil {
		l.log.Error("Query error: %v [%s] (%d rows, %s)", err, sql, rows, elapsed)
		return
	}
	l.log.Debug("Query: %s (%d rows, %s)", sql, rows, elapsed)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"safety-worker-go/internal/config"
	"safety-worker-go/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrPersistence   = errors.New("persistence failure")
	ErrSessionClosed = errors.New("database session closed")
)

const defaultDSN = "file::memory:?cache=shared"

// Store owns the connection pool. Work is done through Sessions.
type Store struct {
	db *gorm.DB
}

// Open connects using DB_CONNECTION_STRING: sqlite://<path>, mysql://<dsn>
// or a bare sqlite path.
func Open(cfg *config.Config) (*Store, error) {
	dialector, kind, err := dialectorFor(cfg.DBConnectionString)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(cfg.DBSlowQuery)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", kind, err)
	}

	log.Info().Str("driver", kind).Msg("Database connection established")
	return &Store{db: db}, nil
}

// OpenMemory opens a private, migrated in-memory sqlite database. Each name
// gets its own database; connections of the same Store share it.
func OpenMemory(name string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(0).LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func dialectorFor(conn string) (gorm.Dialector, string, error) {
	switch {
	case conn == "":
		return sqlite.Open(defaultDSN), "sqlite", nil
	case strings.HasPrefix(conn, "sqlite://"):
		path := strings.TrimPrefix(conn, "sqlite://")
		if path == "" || path == ":memory:" {
			path = defaultDSN
		}
		return sqlite.Open(path), "sqlite", nil
	case strings.HasPrefix(conn, "mysql://"):
		dsn := strings.TrimPrefix(conn, "mysql://")
		if !strings.Contains(dsn, "parseTime") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true&loc=UTC"
		}
		return mysql.Open(dsn), "mysql", nil
	case strings.Contains(conn, "://"):
		return nil, "", fmt.Errorf("unsupported database scheme in %q", conn)
	default:
		return sqlite.Open(conn), "sqlite", nil
	}
}

// Migrate creates or updates every table the worker uses.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&models.Plant{},
		&models.Zone{},
		&models.Camera{},
		&models.Assignee{},
		&models.DetectionType{},
		&models.Scenario{},
		&models.Recording{},
		&models.RecordingScenario{},
		&models.Incident{},
	); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}

func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogger routes gorm output through zerolog.
type gormLogger struct {
	slow  time.Duration
	level gormlogger.LogLevel
}

func newGormLogger(slow time.Duration) gormlogger.Interface {
	return &gormLogger{slow: slow, level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		log.Info().Str("component", "gorm").Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		log.Warn().Str("component", "gorm").Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		log.Error().Str("component", "gorm").Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		log.Error().Err(err).Str("component", "gorm").Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("Query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		log.Warn().Str("component", "gorm").Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("Slow query")
	default:
		if e := log.Debug(); e.Enabled() {
			sql, rows := fc()
			e.Str("component", "gorm").Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("Query")
		}
	}
}

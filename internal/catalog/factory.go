package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/telemetry"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Driver selects the SQL dialect backing the catalog.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// DBConfig configures the catalog's database connection.
type DBConfig struct {
	Driver   Driver `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // file path for sqlite
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// NewGormDB opens a GORM connection per cfg.Driver, mirroring the
// teacher's dialector-selection and connection-pool setup.
func NewGormDB(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case DriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	case DriverSQLite, "":
		path := cfg.Database
		if path == "" {
			path = "catalog.db"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, occerr.Newf(occerr.CodeCorruptInput, "unsupported catalog driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, occerr.Wrap(occerr.CodeStoreIO, "opening catalog database", err)
	}

	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, occerr.Wrap(occerr.CodeStoreIO, "enabling catalog telemetry", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, occerr.Wrap(occerr.CodeStoreIO, "accessing catalog connection pool", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, occerr.Wrap(occerr.CodeStoreIO, "pinging catalog database", err)
	}

	return db, nil
}

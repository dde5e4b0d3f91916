package db

import (
	"fmt"
	"net"
	"strings"
	"time"

	"TrackVault/config"
	"TrackVault/logger"
	"TrackVault/model"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// zapWriter routes gorm's log lines into the application logger.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// MySQLDSN builds the DSN for the MySQL catalog.
func MySQLDSN(cfg *config.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Dialector picks the gorm driver for cfg.CatalogDriver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.CatalogDriver) {
	case "", "sqlite":
		return sqlite.Open(cfg.SQLitePath), nil
	case "mysql":
		return gormmysql.Open(MySQLDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.CatalogDriver)
	}
}

// ConnectGormDB opens the catalog database and migrates its schema.
func ConnectGormDB(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	return Open(dialector)
}

// Open connects through dialector, tunes the pool and migrates the schema.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(),
		// No foreign keys.
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := gdb.AutoMigrate(&model.OfflineDownload{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to auto migrate models: %w", err)
	}

	logger.Info("catalog database ready", logger.String("driver", dialector.Name()))
	return gdb, nil
}

// CloseGormDB closes the connection pool.
func CloseGormDB(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

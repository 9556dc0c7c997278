package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/thep200/github-contrib-scanner/cfg"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database lazily opens one pooled gorm handle for the configured driver.
type Database struct {
	Config  *cfg.Config
	once    sync.Once
	db      *gorm.DB
	initErr error
}

func NewDatabase(config *cfg.Config) (*Database, error) {
	return &Database{
		Config: config,
	}, nil
}

// MysqlDSN builds the go-sql-driver DSN.
func (d *Database) MysqlDSN() string {
	config := mysqlDriver.Config{
		User:                 d.Config.Database.Username,
		Passwd:               d.Config.Database.Password,
		DBName:               d.Config.Database.Database,
		Addr:                 d.Config.Database.Host + ":" + d.Config.Database.Port,
		Net:                  "tcp",
		ParseTime:            true,
		AllowNativePasswords: true,
		Loc:                  time.UTC,
	}
	return config.FormatDSN()
}

func (d *Database) PostgresDSN() string {
	c := d.Config.Database
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

func (d *Database) Dialector() (gorm.Dialector, error) {
	switch d.Config.Database.Driver {
	case "mysql", "":
		return mysql.Open(d.MysqlDSN()), nil
	case "postgres":
		return postgres.Open(d.PostgresDSN()), nil
	case "sqlite":
		return sqlite.Open(d.Config.Database.Database), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", d.Config.Database.Driver)
	}
}

func (d *Database) Db() (*gorm.DB, error) {
	d.once.Do(func() {
		var dialector gorm.Dialector
		dialector, d.initErr = d.Dialector()
		if d.initErr != nil {
			return
		}

		// Open connection
		var db *gorm.DB
		db, d.initErr = gorm.Open(dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if d.initErr != nil {
			return
		}

		var sqlDB *sql.DB
		sqlDB, d.initErr = db.DB()
		if d.initErr != nil {
			return
		}

		// Setting connection pool
		if d.Config.Database.Driver == "sqlite" {
			// A single connection keeps ":memory:" databases shared across goroutines.
			sqlDB.SetMaxOpenConns(1)
		} else {
			sqlDB.SetMaxIdleConns(d.Config.Database.MaxIdleConnection)
			sqlDB.SetMaxOpenConns(d.Config.Database.MaxOpenConnection)
			sqlDB.SetConnMaxLifetime(time.Duration(d.Config.Database.MaxLifeTimeConnection) * time.Second)
		}

		d.db = db
	})
	return d.db, d.initErr
}

func (d *Database) Ping() error {
	db, err := d.Db()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (d *Database) Close() error {
	if d.db != nil {
		sqlDB, err := d.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func (d *Database) Migrate(models ...interface{}) error {
	db, err := d.Db()
	if err != nil {
		return err
	}
	return db.AutoMigrate(models...)
}

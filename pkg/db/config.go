package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultSQLiteConfig returns a single-connection sqlite configuration for path.
// A single connection keeps in-memory databases alive for the manager's lifetime.
func DefaultSQLiteConfig(path string) *Config {
	return &Config{
		Driver:       DriverSQLite,
		Database:     path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		QueryTimeout: 30 * time.Second,
		Logging:      LoggingConfig{Level: "silent"},
	}
}

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.driver() {
	case DriverSQLite:
		if c.Database == "" {
			return fmt.Errorf("sqlite database path is required")
		}
	case DriverMySQL, DriverPostgres:
		if c.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	if c.driver() == DriverMySQL && c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

// driver returns the normalized driver name; an empty driver means mysql
func (c *Config) driver() string {
	if c.Driver == "" {
		return DriverMySQL
	}
	return strings.ToLower(c.Driver)
}

// validateTLSFiles validates that TLS certificate files exist and are readable
func (c *Config) validateTLSFiles() error {
	if c.SSL.CAFile != "" {
		if _, err := os.Stat(c.SSL.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}

	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return fmt.Errorf("both CertFile and KeyFile must be provided together")
		}
		if _, err := os.Stat(c.SSL.CertFile); err != nil {
			return fmt.Errorf("client certificate file not accessible: %w", err)
		}
		if _, err := os.Stat(c.SSL.KeyFile); err != nil {
			return fmt.Errorf("client key file not accessible: %w", err)
		}
	}

	return nil
}

// Dialector returns the gorm dialector for the configured driver
func (c *Config) Dialector() (gorm.Dialector, error) {
	switch c.driver() {
	case DriverSQLite:
		return sqlite.Open(c.GetDSN()), nil
	case DriverPostgres:
		return postgres.Open(c.GetDSN()), nil
	case DriverMySQL:
		dsn, err := c.mysqlDSN()
		if err != nil {
			return nil, err
		}
		return gormmysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// GetDSN returns the Data Source Name for the configured driver.
// MySQL TLS setup failures yield an empty DSN; Dialector reports the error.
func (c *Config) GetDSN() string {
	switch c.driver() {
	case DriverSQLite:
		return c.Database
	case DriverPostgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		tz := c.TimeZone
		if tz == "" {
			tz = "UTC"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
			pgQuote(c.Host), pgQuote(c.Username), pgQuote(c.Password), pgQuote(c.Database), c.Port, pgQuote(sslMode), pgQuote(tz))
	default:
		dsn, _ := c.mysqlDSN()
		return dsn
	}
}

var pgEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// pgQuote renders v as a single-quoted keyword/value DSN value so spaces, quotes
// and backslashes survive parsing
func pgQuote(v string) string {
	return "'" + pgEscaper.Replace(v) + "'"
}

// mysqlDSN builds the MySQL DSN with the official driver config builder
func (c *Config) mysqlDSN() (string, error) {
	cfg := mysql.Config{
		User:                 c.Username,
		Passwd:               c.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", c.Host, c.Port),
		DBName:               c.Database,
		Collation:            c.Collation,
		Loc:                  parseLocation(c.TimeZone),
		ParseTime:            true,
		AllowNativePasswords: true,
		// Updates report matched rows, which the save path uses for concurrency checks
		ClientFoundRows: true,
	}

	if c.SSL.Enabled {
		if c.SSL.SkipVerify {
			cfg.TLSConfig = "skip-verify"
		} else {
			tlsConfig := &tls.Config{ServerName: c.SSL.ServerName}

			if c.SSL.CAFile != "" {
				caCert, err := os.ReadFile(c.SSL.CAFile)
				if err != nil {
					return "", fmt.Errorf("read CA file: %w", err)
				}
				pool := x509.NewCertPool()
				if !pool.AppendCertsFromPEM(caCert) {
					return "", fmt.Errorf("invalid CA certificate in %s", c.SSL.CAFile)
				}
				tlsConfig.RootCAs = pool
			}

			if c.SSL.CertFile != "" && c.SSL.KeyFile != "" {
				cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
				if err != nil {
					return "", fmt.Errorf("load client certificate: %w", err)
				}
				tlsConfig.Certificates = []tls.Certificate{cert}
			}

			tlsName := c.tlsConfigName()
			// Registering the same name twice replaces the config, which is fine here
			_ = mysql.RegisterTLSConfig(tlsName, tlsConfig)
			cfg.TLSConfig = tlsName
		}
	}

	return cfg.FormatDSN(), nil
}

// tlsConfigName creates a stable name for TLS config registration
func (c *Config) tlsConfigName() string {
	h := sha256.New()
	h.Write([]byte(c.SSL.CAFile))
	h.Write([]byte(c.SSL.CertFile))
	h.Write([]byte(c.SSL.KeyFile))
	h.Write([]byte(c.SSL.ServerName))
	return fmt.Sprintf("entity4go_tls_%s", hex.EncodeToString(h.Sum(nil))[:16])
}

// parseLocation parses timezone string to *time.Location
func parseLocation(tz string) *time.Location {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

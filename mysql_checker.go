package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// MySQLChecker validates MySQL connection and required permissions
type MySQLChecker struct {
	host     string
	port     int
	user     string
	password string
	logger   *logrus.Logger
}

// NewMySQLChecker creates a new MySQL checker
func NewMySQLChecker(host string, port int, user, password string, logger *logrus.Logger) *MySQLChecker {
	return &MySQLChecker{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		logger:   logger,
	}
}

// CheckConnectionAndPermissions verifies MySQL connection, replication
// permissions and the binlog settings row capture relies on
func (c *MySQLChecker) CheckConnectionAndPermissions() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", c.user, c.password, c.host, c.port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	c.logger.Info("Successfully connected to MySQL server")

	if err := c.checkGrants(db); err != nil {
		return err
	}
	return c.checkBinlogSettings(db)
}

func (c *MySQLChecker) checkGrants(db *sql.DB) error {
	requiredPrivs := []string{
		"REPLICATION SLAVE",
		"REPLICATION CLIENT",
		"SELECT",
	}

	// SHOW GRANTS can return multiple rows
	rows, err := db.Query("SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// MySQL 5.6
		rows, err = db.Query("SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	grantsStr := strings.Join(grants, "; ")
	grantsUpper := strings.ToUpper(grantsStr)
	// ALL PRIVILEGES covers every privilege we need
	if strings.Contains(grantsUpper, "ALL PRIVILEGES ON *.*") {
		c.logger.Info("All required permissions verified")
		return nil
	}

	var missing []string
	for _, priv := range requiredPrivs {
		if !strings.Contains(grantsUpper, priv) {
			missing = append(missing, priv)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missing, ", "), grantsStr)
	}
	c.logger.Info("All required permissions verified")
	return nil
}

// variable reads a server variable, falling back to SELECT @@name
func variable(db *sql.DB, name string) (string, error) {
	var key, value string
	err := db.QueryRow(fmt.Sprintf("SHOW VARIABLES LIKE '%s'", name)).Scan(&key, &value)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err := db.QueryRow("SELECT @@" + name).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

func (c *MySQLChecker) checkBinlogSettings(db *sql.DB) error {
	logBin, err := variable(db, "log_bin")
	if err != nil {
		c.logger.Warn("Could not verify binlog status")
	} else if logBin != "ON" && logBin != "1" {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %s. Enable it in MySQL configuration", logBin)
	} else {
		c.logger.Info("Binary logging is enabled")
	}

	if format, err := variable(db, "binlog_format"); err == nil {
		if format != "ROW" {
			return fmt.Errorf("binlog_format is set to '%s', row capture needs ROW", format)
		}
		c.logger.Info("binlog_format is set to ROW")
	}

	// update filtering compares before images, which MINIMAL and NOBLOB truncate
	if image, err := variable(db, "binlog_row_image"); err == nil {
		if !strings.EqualFold(image, "FULL") {
			c.logger.Warnf("binlog_row_image is set to '%s', update field filtering needs FULL before images", image)
		}
	}

	// MySQL 8.0.1+; without it column names come from INFORMATION_SCHEMA
	if metadata, err := variable(db, "binlog_row_metadata"); err == nil && !strings.EqualFold(metadata, "FULL") {
		c.logger.Infof("binlog_row_metadata is '%s', column names will be read from INFORMATION_SCHEMA", metadata)
	}
	return nil
}

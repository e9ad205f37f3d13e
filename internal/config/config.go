package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cdc-rowstream/internal/catalog"
	"cdc-rowstream/internal/filter"
	"cdc-rowstream/internal/types"
)

const (
	SourceMySQL    = "mysql"
	SourceDebezium = "debezium"

	CheckpointFile   = "file"
	CheckpointNatsKV = "nats_kv"

	ResolverTableChanges = "table_changes"
	ResolverCatalog      = "catalog"
)

type Config struct {
	Source       SourceConfig       `yaml:"source"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Binlog       BinlogConfig       `yaml:"binlog"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint"`
	Deserializer DeserializerConfig `yaml:"deserializer"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type SourceConfig struct {
	Type string `yaml:"type"` // mysql, debezium
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"`   // mysql, mariadb
	Version  string `yaml:"version"`  // Optional: 5.6, 5.7, 8.0, etc.
	UseGTID  bool   `yaml:"use_gtid"` // Use GTID for replication (MySQL 5.6+)
}

// BinlogConfig sets where replication starts when there is no checkpoint
type BinlogConfig struct {
	StartFile     string `yaml:"start_file"`
	StartPosition uint32 `yaml:"start_position"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	GroupID  string   `yaml:"group_id"`
	MinBytes int      `yaml:"min_bytes"`
	MaxBytes int      `yaml:"max_bytes"`
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	SchemaSubject  string        `yaml:"schema_subject"`
	ControlSubject string        `yaml:"control_subject"`
	MaxReconnect   int           `yaml:"max_reconnect"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
}

type CheckpointConfig struct {
	Type     string        `yaml:"type"` // file, nats_kv
	Path     string        `yaml:"path"`
	Bucket   string        `yaml:"bucket"`
	Key      string        `yaml:"key"`
	Interval time.Duration `yaml:"interval"`
}

// ColumnConfig declares one column of an inline table layout. Type is a
// MySQL column type such as "varchar(64)" or "decimal(10,2)".
type ColumnConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type DeserializerConfig struct {
	ServerTimeZone      string `yaml:"server_time_zone"`
	SchemaChangeEnabled bool   `yaml:"schema_change_enabled"`
	// SchemaResolver is table_changes or catalog
	SchemaResolver         string   `yaml:"schema_resolver"`
	ConverterScript        string   `yaml:"converter_script"`
	ConverterScriptColumns []string `yaml:"converter_script_columns"`
	// Tables lists the database.table identifiers in scope, in order
	Tables     []string `yaml:"tables"`
	MultiTable bool     `yaml:"multi_table"`
	// TableLayouts declares layouts inline instead of reading INFORMATION_SCHEMA
	TableLayouts  map[string][]ColumnConfig `yaml:"table_layouts"`
	IncludeFields map[string][]string       `yaml:"include_fields"`
	ExcludeFields map[string][]string       `yaml:"exclude_fields"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads, defaults and validates the config file at path. Unknown
// keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = SourceMySQL
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.Flavor == "" {
		c.MySQL.Flavor = "mysql"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Checkpoint.Type == "" {
		c.Checkpoint.Type = CheckpointFile
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "checkpoint.json"
	}
	if c.Checkpoint.Bucket == "" {
		c.Checkpoint.Bucket = "cdc_checkpoints"
	}
	if c.Checkpoint.Key == "" {
		c.Checkpoint.Key = "deserializer"
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = 30 * time.Second
	}
	if c.Deserializer.SchemaResolver == "" {
		c.Deserializer.SchemaResolver = ResolverTableChanges
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the settings the selected source and checkpoint store need
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceMySQL:
		if c.MySQL.Host == "" || c.MySQL.User == "" {
			return fmt.Errorf("mysql.host and mysql.user are required for the mysql source")
		}
		if c.MySQL.ServerID == 0 {
			return fmt.Errorf("mysql.server_id is required for the mysql source")
		}
	case SourceDebezium:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required for the debezium source")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id is required for the debezium source")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}

	if c.NATS.URL == "" || c.NATS.Subject == "" {
		return fmt.Errorf("nats.url and nats.subject are required")
	}

	switch c.Checkpoint.Type {
	case CheckpointFile, CheckpointNatsKV:
	default:
		return fmt.Errorf("unknown checkpoint type %q", c.Checkpoint.Type)
	}

	d := c.Deserializer
	if len(d.Tables) == 0 {
		return fmt.Errorf("deserializer.tables must list at least one table")
	}
	seen := make(map[string]bool, len(d.Tables))
	for _, id := range d.Tables {
		if _, _, err := catalog.SplitTableID(id); err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("table %s listed twice", id)
		}
		seen[id] = true
	}
	switch d.SchemaResolver {
	case ResolverTableChanges:
	case ResolverCatalog:
		if c.MySQL.Host == "" {
			return fmt.Errorf("the catalog schema resolver needs mysql.host")
		}
	default:
		return fmt.Errorf("unknown schema resolver %q", d.SchemaResolver)
	}
	if len(d.TableLayouts) == 0 && c.MySQL.Host == "" {
		return fmt.Errorf("deserializer.table_layouts or mysql.host is required to load table layouts")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the server time zone used by temporal codecs
func (c *Config) Location() (*time.Location, error) {
	if c.Deserializer.ServerTimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Deserializer.ServerTimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid server_time_zone %q: %w", c.Deserializer.ServerTimeZone, err)
	}
	return loc, nil
}

// FieldPolicies builds the update filter policies. Tables configured with
// both include and exclude fields keep the include set and are returned as
// conflicts.
func (c *Config) FieldPolicies() (filter.Policies, []string) {
	return filter.NewPolicies(c.Deserializer.IncludeFields, c.Deserializer.ExcludeFields)
}

// InlineProducedType builds the produced type from table_layouts. It returns
// nil when no layouts are configured.
func (c *Config) InlineProducedType() (types.ProducedType, error) {
	d := c.Deserializer
	if len(d.TableLayouts) == 0 {
		return nil, nil
	}
	entries := make([]types.TableRowType, 0, len(d.Tables))
	for _, id := range d.Tables {
		columns, ok := d.TableLayouts[id]
		if !ok {
			return nil, fmt.Errorf("no table_layouts entry for %s", id)
		}
		fields := make([]types.Field, 0, len(columns))
		for _, col := range columns {
			dt, err := catalog.DataTypeOf(col.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", id, col.Name, err)
			}
			fields = append(fields, types.Field{Name: col.Name, Type: dt})
		}
		rt, err := types.NewRowType(fields...)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", id, err)
		}
		entries = append(entries, types.TableRowType{TableID: id, RowType: rt})
	}
	if len(entries) == 1 && !d.MultiTable {
		return entries[0].RowType, nil
	}
	m, err := types.NewMultipleRowType(entries...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/binlog"
	"cdc-rowstream/internal/catalog"
	"cdc-rowstream/internal/checkpoint"
	"cdc-rowstream/internal/config"
	"cdc-rowstream/internal/converter"
	"cdc-rowstream/internal/deserializer"
	"cdc-rowstream/internal/kafka"
	natspub "cdc-rowstream/internal/nats"
	"cdc-rowstream/internal/processor"
	"cdc-rowstream/internal/resolver"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(configPath, logger); err != nil {
		logger.Fatalf("CDC row stream service failed: %v", err)
	}
	logger.Info("CDC row stream service stopped")
}

func run(configPath string, logger *logrus.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting CDC row stream service (source: %s)...", cfg.Source.Type)
	if cfg.MySQL.Version != "" {
		logger.Infof("MySQL version: %s", cfg.MySQL.Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var cat *catalog.Catalog
	if cfg.MySQL.Host != "" {
		if cfg.Source.Type == config.SourceMySQL {
			checker := NewMySQLChecker(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, logger)
			if err := checker.CheckConnectionAndPermissions(); err != nil {
				return fmt.Errorf("MySQL preflight check failed: %w", err)
			}
		}
		cat, err = catalog.Open(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, logger)
		if err != nil {
			return err
		}
		defer cat.Close()
	}

	produced, err := cfg.InlineProducedType()
	if err != nil {
		return err
	}
	if produced == nil {
		produced, err = cat.ProducedType(ctx, cfg.Deserializer.Tables, cfg.Deserializer.MultiTable)
		if err != nil {
			return err
		}
	}
	logger.Infof("Produced type: %s", produced)

	var factory converter.Factory = converter.NewDefaultFactory(loc)
	if cfg.Deserializer.ConverterScript != "" {
		factory, err = converter.LoadScriptFactory(cfg.Deserializer.ConverterScript, cfg.Deserializer.ConverterScriptColumns, factory, logger)
		if err != nil {
			return err
		}
	}

	var schemaResolver deserializer.SchemaChangeResolver
	if cfg.Deserializer.SchemaChangeEnabled {
		switch cfg.Deserializer.SchemaResolver {
		case config.ResolverCatalog:
			schemaResolver = resolver.NewCatalogResolver(cat, cfg.Deserializer.Tables, 0, logger)
		default:
			schemaResolver = resolver.NewTableChangesResolver(cfg.Deserializer.Tables, logger)
		}
	}

	d, err := deserializer.New(produced, factory, schemaResolver, logger)
	if err != nil {
		return err
	}
	applyFieldPolicies(cfg, d, logger)

	nc, err := natspub.Connect(cfg.NATS.URL, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
	if err != nil {
		return err
	}
	publisher := natspub.NewPublisher(nc, natspub.Subjects{
		Rows:         cfg.NATS.Subject,
		SchemaChange: cfg.NATS.SchemaSubject,
		Control:      cfg.NATS.ControlSubject,
	}, d, logger)
	defer publisher.Close()

	var store checkpoint.Store
	switch cfg.Checkpoint.Type {
	case config.CheckpointNatsKV:
		store, err = checkpoint.NewKVStore(publisher.GetConn(), cfg.Checkpoint.Bucket, cfg.Checkpoint.Key)
		if err != nil {
			return err
		}
	default:
		store = checkpoint.NewFileStore(cfg.Checkpoint.Path)
	}
	coordinator := checkpoint.NewCoordinator(store, d, publisher, cfg.Checkpoint.Interval, logger)

	snapshot, err := processor.Restore(ctx, d, coordinator, logger)
	if err != nil {
		return err
	}

	source, err := openSource(cfg, snapshot, cat, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	proc := processor.NewProcessor(source, d, coordinator, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errChan := make(chan error, 1)
	go func() {
		errChan <- proc.Start(ctx)
	}()

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadFieldPolicies(configPath, d, logger)
				continue
			}
			logger.Infof("Received signal: %v, shutting down...", sig)
			cancel()
			return <-errChan
		case err := <-errChan:
			return err
		}
	}
}

func openSource(cfg *config.Config, snapshot *checkpoint.Snapshot, cat *catalog.Catalog, logger *logrus.Logger) (processor.Source, error) {
	switch cfg.Source.Type {
	case config.SourceDebezium:
		reader := kafka.NewReader(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			GroupID:  cfg.Kafka.GroupID,
			MinBytes: cfg.Kafka.MinBytes,
			MaxBytes: cfg.Kafka.MaxBytes,
		})
		logger.Infof("Consuming Debezium records from %s (group %s)", cfg.Kafka.Topic, cfg.Kafka.GroupID)
		return kafka.NewSource(reader, cfg.Deserializer.Tables, logger), nil
	default:
		start := mysql.Position{Name: cfg.Binlog.StartFile, Pos: cfg.Binlog.StartPosition}
		if snapshot != nil && snapshot.Position != "" {
			var err error
			if start, err = binlog.ParsePosition(snapshot.Position); err != nil {
				return nil, err
			}
		}
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		reader, err := binlog.NewReader(binlog.ReaderConfig{
			Host:     cfg.MySQL.Host,
			Port:     cfg.MySQL.Port,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			ServerID: cfg.MySQL.ServerID,
			Flavor:   cfg.MySQL.Flavor,
			UseGTID:  cfg.MySQL.UseGTID,
			Location: loc,
		}, start, logger)
		if err != nil {
			return nil, err
		}
		return binlog.NewSource(reader, cat, cfg.Deserializer.Tables, logger), nil
	}
}

func applyFieldPolicies(cfg *config.Config, d *deserializer.Deserializer, logger *logrus.Logger) {
	policies, conflicts := cfg.FieldPolicies()
	for _, table := range conflicts {
		logger.Warnf("Both include and exclude fields configured for %s, using include", table)
	}
	d.SetFieldPolicies(policies)
	logger.Infof("Field policies set for %d tables", len(policies))
}

func reloadFieldPolicies(configPath string, d *deserializer.Deserializer, logger *logrus.Logger) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Errorf("Failed to reload config, keeping current field policies: %v", err)
		return
	}
	applyFieldPolicies(cfg, d, logger)
}

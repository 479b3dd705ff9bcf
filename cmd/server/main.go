package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/aggregator"
	"github.com/templeops/temple-tasks/internal/generator"
	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/monitor"
	"github.com/templeops/temple-tasks/internal/notify"
	"github.com/templeops/temple-tasks/internal/policy"
	"github.com/templeops/temple-tasks/internal/storage"
	"github.com/templeops/temple-tasks/internal/store"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Load role policy
	rolePolicy, err := policy.Load(viper.GetViper(), logger)
	if err != nil {
		logger.Fatal("Failed to load role policy", zap.Error(err))
	}

	// Create audit archive storage
	dbPath := viper.GetString("store.audit_db")
	if dbPath == "" {
		dbPath = "task_audit.db"
	}
	archive, err := storage.NewSQLiteAuditArchive(logger, dbPath)
	if err != nil {
		logger.Fatal("Failed to create audit archive", zap.Error(err))
	}
	defer archive.Close()

	// Create task store
	taskStore := store.NewTaskStore(rolePolicy, archive, logger)

	// Create escalation notifier
	notifier, err := notify.NewJetStreamNotifier(js, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start the auto-generator
	templates := generator.DefaultTemplates()
	if viper.IsSet("generator.templates") {
		var configured []model.TaskTemplate
		if err := viper.UnmarshalKey("generator.templates", &configured); err != nil {
			logger.Fatal("Failed to parse task templates", zap.Error(err))
		}
		templates = configured
	}

	cronSpec := viper.GetString("generator.daily_cron")
	if cronSpec == "" {
		cronSpec = "0 5 0 * * *"
	}

	autoGenerator := generator.NewAutoGenerator(js, taskStore, templates, cronSpec, logger)
	if err := autoGenerator.Start(ctx); err != nil {
		logger.Fatal("Failed to start auto-generator", zap.Error(err))
	}
	defer autoGenerator.Stop()

	// Generate today's routine tasks on boot so a midday restart does not
	// leave the day empty
	today := time.Now().Format(model.DateLayout)
	created := autoGenerator.RunDaily(ctx, today)
	logger.Info("Boot-time generation finished",
		zap.String("date", today),
		zap.Int("created", created))

	// Start the escalation monitor
	var rules []model.EscalationRule
	if err := viper.UnmarshalKey("monitor.escalation_rules", &rules); err != nil {
		logger.Fatal("Failed to parse escalation rules", zap.Error(err))
	}

	scanInterval := viper.GetDuration("monitor.scan_interval")
	if scanInterval == 0 {
		scanInterval = time.Minute
	}

	escalationMonitor := monitor.NewEscalationMonitor(taskStore, notifier, rules, scanInterval, logger)
	escalationMonitor.Start(ctx)
	defer escalationMonitor.Stop()

	// Start the readiness publisher
	publishInterval := viper.GetDuration("metrics.publish_interval")
	if publishInterval == 0 {
		publishInterval = 30 * time.Second
	}

	readinessAgg := aggregator.New(taskStore)
	publisher := monitor.NewReadinessPublisher(js, readinessAgg, publishInterval, logger)
	if err := publisher.Start(ctx); err != nil {
		logger.Fatal("Failed to start readiness publisher", zap.Error(err))
	}
	defer publisher.Stop()

	// Cleanup archived audit entries past the retention window
	retention := viper.GetDuration("store.audit_retention")
	if retention == 0 {
		retention = 90 * 24 * time.Hour
	}
	go func() {
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				cutoff := time.Now().Add(-retention)
				if err := archive.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to cleanup audit archive", zap.Error(err))
				}
			}
		}
	}()

	logger.Info("Temple task engine started",
		zap.String("date", today),
		zap.Duration("scan_interval", scanInterval),
		zap.Duration("publish_interval", publishInterval))

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("Server shutting down gracefully")
}

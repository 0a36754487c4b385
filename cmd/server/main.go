// Command server runs the flow engine: the management API, the trigger
// layer, and the audit emitter, backed by Postgres and NATS when configured.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	nats "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/activity"
	"github.com/flowmesh/flowmesh/internal/api"
	"github.com/flowmesh/flowmesh/internal/audit"
	"github.com/flowmesh/flowmesh/internal/config"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/secret"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("configuration invalid")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("component", "server")

	emitter, natsConn := buildEmitter(cfg, log)
	if natsConn != nil {
		defer natsConn.Close()
	}

	var (
		processes *store.ProcessStore
		secrets   api.SecretStore
		resolver  secret.Resolver = secret.NopResolver{}
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("database open failed")
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.WithError(err).Fatal("database unreachable")
		}
		processes = store.NewProcessStore(db)

		if cfg.SecretsKey != "" {
			secretStore, err := secret.NewStore(db, []byte(cfg.SecretsKey))
			if err != nil {
				log.WithError(err).Fatal("secret store setup failed")
			}
			secrets = secretStore
			resolver = secretStore
		}
	} else {
		log.Warn("no database configured, running stateless")
	}

	registry := activity.NewRegistry()
	executor := engine.New(registry, emitter, resolver)

	restRegistry := trigger.NewRESTRegistry()
	soapRegistry := trigger.NewSOAPRegistry()
	manager := trigger.NewManager(executor, restRegistry, soapRegistry)
	defer manager.StopAll()

	server := api.New(executor, registry, processes, secrets, manager, restRegistry, soapRegistry, cfg.RequestTimeout)

	if processes != nil {
		redeployAll(processes, manager, log)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler()}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("engine listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
}

func buildEmitter(cfg *config.Config, log *logrus.Entry) (audit.Emitter, *nats.Conn) {
	if cfg.NATSURL == "" {
		log.Warn("no audit bus configured, audit events are discarded")
		return audit.NopEmitter{}, nil
	}
	conn, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		log.WithError(err).Fatal("audit bus unreachable")
	}
	return audit.NewNATSEmitter(conn), conn
}

// redeployAll restores the triggers of every process that was deployed when
// the engine last stopped.
func redeployAll(processes *store.ProcessStore, manager *trigger.Manager, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	list, err := processes.List(ctx, store.StatusDeployed)
	if err != nil {
		log.WithError(err).Error("reading deployed processes failed")
		return
	}
	for _, summary := range list {
		rec, err := processes.Get(ctx, summary.ID)
		if err != nil {
			log.WithError(err).WithField("process", summary.ID).Warn("redeploy skipped")
			continue
		}
		proc, err := rec.ParseDSL()
		if err != nil {
			log.WithError(err).WithField("process", summary.ID).Warn("redeploy skipped, DSL unparseable")
			continue
		}
		if err := manager.Deploy(proc); err != nil {
			log.WithError(err).WithField("process", summary.ID).Warn("redeploy failed")
			continue
		}
		log.WithField("process", summary.ID).Info("trigger restored")
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/rendis/chatflow/internal/agents"
	"github.com/rendis/chatflow/internal/conversation"
	"github.com/rendis/chatflow/internal/definitions"
	"github.com/rendis/chatflow/internal/engine"
	"github.com/rendis/chatflow/internal/janitor"
	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/internal/metrics"
	"github.com/rendis/chatflow/internal/steps"
	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/internal/streaming"
	"github.com/rendis/chatflow/internal/validation"
)

// app is the wired runtime shared by the commands.
type app struct {
	cfg       *Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	snapshots store.SnapshotStore
	sql       store.Store     // nil on the redis driver
	history   *store.EventLog // nil on the redis driver
	agents    *agents.Registry
	validator *validation.WorkflowValidator
	catalog   *definitions.Memory
	hub       *streaming.MemoryHub
	runner    *engine.Runner
	closers   []io.Closer
}

// newApp wires the store, catalog, agents and runner. Definitions are
// loaded only when loadCatalog is set.
func newApp(ctx context.Context, cfg *Config, logOut io.Writer, loadCatalog bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logging.New(logOut, cfg.Log.Level, cfg.Log.Format),
		registry: prometheus.NewRegistry(),
		agents:   agents.NewRegistry(cfg.Agents...),
		hub:      streaming.NewMemoryHub(64),
	}
	a.metrics = metrics.NewCollector("chatflow", a.registry)

	// Agent keys are checked only when agents are configured.
	var known validation.AgentRegistry
	if len(cfg.Agents) > 0 {
		known = a.agents
	}
	validator, err := validation.NewWorkflowValidator(known)
	if err != nil {
		return nil, err
	}
	a.validator = validator

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.catalog = definitions.NewMemory()
	if loadCatalog {
		catalog, err := definitions.LoadDir(cfg.Definitions.Dir, a.validator)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load definitions: %w", err)
		}
		a.catalog = catalog
	}

	collab := steps.Collaborators{
		Events:     streaming.NewSink(a.hub, a.logger),
		Normalizer: conversation.NewNormalizer(cfg.Engine.Provider),
		Parser:     &steps.JSONParser{Contracts: a.validator},
	}
	if a.sql != nil {
		collab.Recorder = a.sql
	}
	invoker, err := a.agentInvoker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if invoker != nil {
		collab.Agents = invoker
	}

	deps := engine.Deps{
		Snapshots:   a.snapshots,
		Definitions: a.catalog,
		Validator:   a.validator,
		Metrics:     a.metrics,
		Logger:      a.logger,
	}
	if a.history != nil {
		deps.Events = a.history
	}

	runner, err := engine.NewRunner(deps, collab, engine.Config{
		MaxCallDepth: cfg.Engine.MaxCallDepth,
		MaxSteps:     cfg.Engine.MaxSteps,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = runner
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch strings.ToLower(a.cfg.Store.Driver) {
	case "", "libsql":
		dsn := a.cfg.Store.DSN
		if !strings.Contains(dsn, ":") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return fmt.Errorf("create store directory: %w", err)
			}
			dsn = "file:" + dsn
		}
		st, err := store.NewLibSQLStore(dsn)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, st)
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		a.sql = st
		a.snapshots = st
		a.history = store.NewEventLog(st)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		rs := store.NewRedisStore(client, store.RedisOptions{
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			TTL:       a.cfg.Redis.TTL,
		})
		a.closers = append(a.closers, rs)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.snapshots = rs
	default:
		return fmt.Errorf("unknown store driver %q, use \"libsql\" or \"redis\"", a.cfg.Store.Driver)
	}
	return nil
}

// agentInvoker builds the chat model backed invoker. Without an API key the
// runner has no agent collaborator and agent nodes fail when reached.
func (a *app) agentInvoker(ctx context.Context) (*agents.EinoInvoker, error) {
	mc := a.cfg.Model
	if mc.APIKey == "" {
		a.logger.Warn("model.api_key not set, agent nodes are unavailable")
		return nil, nil
	}
	modelCfg := &openai.ChatModelConfig{
		APIKey:  mc.APIKey,
		BaseURL: mc.BaseURL,
		Model:   mc.Name,
	}
	if mc.MaxTokens > 0 {
		modelCfg.MaxTokens = &mc.MaxTokens
	}
	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return agents.NewEinoInvoker(chatModel, a.agents, a.logger), nil
}

func (a *app) newJanitor() (*janitor.Janitor, error) {
	return janitor.New(a.snapshots, janitor.Config{
		Schedule:  a.cfg.Janitor.Schedule,
		Retention: a.cfg.Janitor.Retention,
	}, a.metrics, a.logger)
}

// Close releases the store connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

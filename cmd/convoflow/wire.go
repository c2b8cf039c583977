package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/convoflow/config"
	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/crm"
	"github.com/hupe1980/convoflow/dispatch"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/memory"
	"github.com/hupe1980/convoflow/model"
	"github.com/hupe1980/convoflow/model/anthropic"
	"github.com/hupe1980/convoflow/model/openai"
	"github.com/hupe1980/convoflow/retrieval"
	"github.com/hupe1980/convoflow/retrieval/qdrant"
	"github.com/hupe1980/convoflow/runner"
	"github.com/hupe1980/convoflow/tool"
	"github.com/hupe1980/convoflow/tracing"
)

// app bundles the wired components and their shutdown hooks.
type app struct {
	cfg    *config.Config
	logger logging.Logger
	runner *runner.Runner
	ready  func(ctx context.Context) error

	closers []func(ctx context.Context) error
}

// Close runs shutdown hooks in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(func(o *config.Options) {
		o.EnvFile = c.String("env")
	})
}

func newLogger(cfg *config.Config) (*logging.ZapAdapter, error) {
	zl, err := logging.NewZapLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logging.NewZapAdapter(zl), nil
}

// newModel selects the chat model adapter for the configured provider.
func newModel(cfg *config.Config) model.Model {
	switch strings.ToLower(cfg.ModelProvider) {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.AnthropicAPIKey
			o.Temperature = cfg.Temperature
			if cfg.ModelName != "" {
				o.Model = anthropicsdk.Model(cfg.ModelName)
			}
		})
	default:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = cfg.OpenAIAPIKey
			o.Temperature = cfg.Temperature
			if cfg.ModelName != "" {
				o.Model = cfg.ModelName
			}
		})
	}
}

// build wires every component named by the configuration. Optional
// backends fall back to their in-process variants when unset.
func build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, "convoflow", cfg.TracingEndpoint)
		if err != nil {
			return nil, err
		}
		a.onClose(shutdown)
	}

	m := newModel(cfg)

	client := crm.NewClient(func(o *crm.Options) {
		o.LeadURL = cfg.CRMLeadURL
		o.TranscriptURL = cfg.CRMTranscriptURL
		o.Username = cfg.CRMUsername
		o.Password = cfg.CRMPassword
		o.RatePerSecond = cfg.CRMRatePerSecond
		o.Logger = logger
	})

	registry := tool.NewRegistry()
	registry.MustRegister(tool.NewLeadTool(client), func(o *tool.RegisterOptions) { o.UserFacing = true })

	if cfg.RetrievalEnabled() {
		searcher, err := qdrant.New(func(o *qdrant.Options) {
			o.URL = cfg.QdrantURL
			o.Collection = cfg.QdrantCollection
			o.APIKey = cfg.QdrantAPIKey
			o.OpenAIKey = cfg.OpenAIAPIKey
			o.EmbeddingModel = cfg.EmbeddingModel
		})
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		retriever := retrieval.NewRetriever(searcher, func(o *retrieval.Options) {
			o.TopK = cfg.RetrievalTopK
			o.Expander = retrieval.NewModelExpander(m, cfg.RetrievalQueries)
			o.Logger = logger
		})
		registry.MustRegister(retrieval.NewSearchTool(retriever))
	}

	var store core.MemoryStore
	if cfg.DurableThreads() {
		kv, closeConn, err := memory.OpenKVStore(ctx, memory.NATSConfig{
			URL:    cfg.NATSURL,
			Token:  cfg.NATSToken,
			Bucket: cfg.NATSBucket,
			TTL:    cfg.ThreadTTL,
		}, logger)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.onClose(func(context.Context) error { closeConn(); return nil })
		store = kv
	} else {
		store = memory.NewInMemoryStore()
	}

	var dispatcher dispatch.Dispatcher
	if cfg.DurableDispatch() {
		river, err := dispatch.NewRiverDispatcher(ctx, cfg.DatabaseURL, client, func(o *dispatch.RiverOptions) {
			o.Logger = logger
		})
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		if err := river.Start(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("failed to start transcript queue: %w", err)
		}
		a.onClose(river.Stop)
		dispatcher = river
	} else {
		async := dispatch.NewAsyncDispatcher(client, func(o *dispatch.AsyncOptions) {
			o.Logger = logger
		})
		a.onClose(func(context.Context) error { async.Wait(); return nil })
		dispatcher = async
	}

	// Loading an unknown thread reads the backend without writing to it.
	a.ready = func(ctx context.Context) error {
		_, err := store.Load(ctx, "readiness-probe")
		return err
	}

	review, err := runner.ParseReviewPolicy(cfg.ReviewMode, cfg.ReviewTools)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.runner = runner.New(m, func(o *runner.Options) {
		o.Store = store
		o.Registry = registry
		o.Dispatcher = dispatcher
		o.Review = review
		o.MaxSteps = cfg.MaxSteps
		o.Logger = logger
	})

	return a, nil
}

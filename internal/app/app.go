// Package app wires the application components together and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/factoryml/factoryml/internal/config"
	"github.com/factoryml/factoryml/internal/feature"
	"github.com/factoryml/factoryml/internal/inference"
	"github.com/factoryml/factoryml/internal/model"
	"github.com/factoryml/factoryml/internal/simulate"
	"github.com/factoryml/factoryml/internal/storage"
	"github.com/factoryml/factoryml/internal/training"
	"github.com/factoryml/factoryml/internal/validate"
	"github.com/factoryml/factoryml/pkg/types"
)

// App owns every long-lived component: the schema pipeline, the
// inference engine serving the CURRENT model, the lifecycle manager,
// the deployment registry, and the training job runner.
type App struct {
	cfg *config.Config

	// Schema pipeline
	schema      *types.Schema
	validator   *validate.Validator
	transformer *feature.Transformer

	// Inference
	runtime inference.Runtime
	engine  *inference.Engine

	// Lifecycle
	registry *model.Registry
	mirror   storage.ObjectStorage
	manager  *model.Manager
	watcher  *model.Watcher

	// Training
	trainJobs *training.Jobs

	// What-if simulation
	simulator *simulate.Engine

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New validates the configuration and prepares an App. No model is
// loaded until Start.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start loads the schema and the CURRENT model and brings every
// component up. A CURRENT model that fails to load aborts startup.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initPipeline(); err != nil {
		a.cleanup()
		return err
	}
	if err := a.initInference(ctx); err != nil {
		a.cleanup()
		return err
	}
	if err := a.initLifecycle(ctx); err != nil {
		a.cleanup()
		return err
	}
	a.initTraining()

	a.simulator = simulate.NewEngine(a.transformer, a.engine)

	log.Printf("factoryml started: schema version %s, model %s",
		a.schema.Version, a.engine.CurrentPath())
	return nil
}

// initPipeline loads the schema and builds the validator and the
// feature transformer bound to it.
func (a *App) initPipeline() error {
	schema, err := types.LoadSchema(a.cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	a.schema = schema
	a.validator = validate.NewValidator(schema)
	a.transformer = feature.NewTransformer(schema)
	log.Printf("schema loaded: version %s, %d columns", schema.Version, len(schema.Columns))
	return nil
}

// initInference builds the ONNX runtime and the engine serving the
// CURRENT model.
func (a *App) initInference(ctx context.Context) error {
	rt, err := inference.NewONNXRuntime()
	if err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	a.runtime = rt

	loadCtx := ctx
	if a.cfg.Inference.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, a.cfg.Inference.LoadTimeout)
		defer cancel()
	}

	engine, err := inference.NewEngine(loadCtx, a.runtime, a.cfg.CurrentModelPath(),
		inference.WithPredictTimeout(a.cfg.Inference.PredictTimeout))
	if err != nil {
		return fmt.Errorf("failed to load current model: %w", err)
	}
	a.engine = engine
	return nil
}

// initLifecycle opens the deployment registry, the optional archive
// mirror, the lifecycle manager, and the incoming-directory watcher.
func (a *App) initLifecycle(ctx context.Context) error {
	registry, err := model.OpenRegistry(a.cfg.Models.RegistryPath)
	if err != nil {
		return fmt.Errorf("failed to open deployment registry: %w", err)
	}
	a.registry = registry
	log.Printf("deployment registry opened: %s", a.cfg.Models.RegistryPath)

	switch a.cfg.Storage.Type {
	case "", "none":
		// No archive mirror.
	case "local":
		a.mirror, err = storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize local mirror: %w", err)
		}
		log.Printf("archive mirror initialized: local path %s", a.cfg.Storage.Path)
	case "s3":
		a.mirror, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:   a.cfg.Storage.S3.Region,
			Endpoint: a.cfg.Storage.S3.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize S3 mirror: %w", err)
		}
		log.Printf("archive mirror initialized: s3 bucket %s", a.cfg.Storage.S3.Bucket)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}

	a.manager = model.NewManager(a.runtime, a.engine, model.ManagerConfig{
		CurrentPath: a.cfg.CurrentModelPath(),
		ArchiveDir:  a.cfg.Models.ArchiveDir,
		Registry:    a.registry,
		Mirror:      a.mirror,
	})

	a.watcher = model.NewWatcher(a.manager, a.cfg.Models.IncomingDir)
	if err := a.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch incoming directory: %w", err)
	}
	log.Printf("watching for candidate models: %s", a.cfg.Models.IncomingDir)
	return nil
}

func (a *App) initTraining() {
	runner := training.NewRunner(
		a.cfg.Training.Python,
		a.cfg.Training.Module,
		a.cfg.Training.ConfigPath,
		a.cfg.Training.RunDir,
		a.cfg.Training.Timeout,
	)
	a.trainJobs = training.NewJobs(runner)
}

// Schema returns the loaded column schema.
func (a *App) Schema() *types.Schema { return a.schema }

// Validator returns the row validator bound to the schema.
func (a *App) Validator() *validate.Validator { return a.validator }

// Transformer returns the feature transformer bound to the schema.
func (a *App) Transformer() *feature.Transformer { return a.transformer }

// Engine returns the inference engine.
func (a *App) Engine() *inference.Engine { return a.engine }

// Manager returns the model lifecycle manager.
func (a *App) Manager() *model.Manager { return a.manager }

// Registry returns the deployment registry.
func (a *App) Registry() *model.Registry { return a.registry }

// TrainingJobs returns the async training job manager.
func (a *App) TrainingJobs() *training.Jobs { return a.trainJobs }

// Simulator returns the what-if simulation engine.
func (a *App) Simulator() *simulate.Engine { return a.simulator }

// Stop shuts down every component. Stop is idempotent; in-flight
// training jobs are waited for after their contexts are canceled.
func (a *App) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("factoryml stopping")
	if a.cancel != nil {
		a.cancel()
	}
	a.cleanup()
	log.Printf("factoryml stopped")
	return nil
}

// cleanup tears components down in reverse dependency order. Safe to
// call with partially initialized state after a failed Start.
func (a *App) cleanup() {
	if a.trainJobs != nil {
		a.trainJobs.Wait()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			log.Printf("failed to close inference engine: %v", err)
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			log.Printf("failed to close deployment registry: %v", err)
		}
	}
}

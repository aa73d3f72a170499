package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/allocator"
	"github.com/g1ibby/llm-deploy/internal/config"
	"github.com/g1ibby/llm-deploy/internal/litellm"
	"github.com/g1ibby/llm-deploy/internal/modelops"
	"github.com/g1ibby/llm-deploy/internal/orchestrator"
	"github.com/g1ibby/llm-deploy/internal/registry"
	"github.com/g1ibby/llm-deploy/internal/sizing"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

// app is the wired component graph for one invocation. A single gateway
// client and a single registry are shared by the controller and model
// operations; nothing here is global.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	market     *vast.Client
	gateway    *litellm.Client
	registry   *registry.Registry
	controller *orchestrator.Controller
	oracle     *sizing.Oracle
	alloc      *allocator.Allocator
	ops        *modelops.Manager
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if cfg.LogLevel == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	market := vast.NewClient(vast.Config{APIKey: cfg.VastAPIKey}, logger)
	gateway := litellm.NewClient(cfg.LiteLLMURL, logger)

	reg, err := registry.Open(cfg.StatePath, logger)
	if err != nil {
		return nil, err
	}

	controller := orchestrator.New(market, gateway, reg, nil, orchestrator.DefaultConfig(), logger)
	oracle := sizing.NewOracle(sizing.Config{}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		market:     market,
		gateway:    gateway,
		registry:   reg,
		controller: controller,
		oracle:     oracle,
		alloc:      allocator.New(market, oracle, logger),
		ops:        modelops.New(reg, gateway, controller, nil, logger),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func parseAccess(access string) (publicIP bool, err error) {
	switch access {
	case "ip":
		return true, nil
	case "cf":
		return false, nil
	default:
		return false, fmt.Errorf("invalid access mode %q (want ip or cf)", access)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "llm-deploy",
		Short:         "Deploy and manage LLM inference workers on spot GPU machines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newOffersCmd(),
		newApplyCmd(),
		newDestroyCmd(),
		newRunCmd(),
		newInfraCmd(),
		newModelCmd(),
		newLogsCmd(),
	)
	return root
}

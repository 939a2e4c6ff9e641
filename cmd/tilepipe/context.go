package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tilepipe/internal/api"
	"tilepipe/internal/backend"
	"tilepipe/internal/config"
	"tilepipe/internal/logging"
	"tilepipe/internal/services"
	"tilepipe/internal/stage"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// withBackends opens the configured backends for the duration of fn. CLI
// commands log nothing; failures surface as returned errors.
func (c *commandContext) withBackends(ctx context.Context, fn func(*backend.Set) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	set, err := backend.Open(ctx, cfg, logging.NewNop())
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer set.Close()
	return fn(set)
}

func (c *commandContext) withService(ctx context.Context, fn func(*api.Service) error) error {
	return c.withBackends(ctx, func(set *backend.Set) error {
		return fn(api.NewService(set, logging.NewNop()))
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

var errSomeFailed = errors.New("one or more items failed")

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func stageDefinition(set *backend.Set, name string) (stage.Definition, error) {
	def, ok := stage.Find(set.Chain(), name)
	if !ok {
		return stage.Definition{}, services.Wrap(services.ErrConfiguration, "", "lookup stage", fmt.Sprintf("unknown stage %q", name), nil)
	}
	return def, nil
}

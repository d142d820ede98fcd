package main

import (
	"context"
	"errors"
	"strings"
	"sync"

	"permavid/internal/api"
	"permavid/internal/config"
)

type commandContext struct {
	configFlag *string
	bindFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, bindFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		bindFlag:   bindFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
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

func (c *commandContext) bindAddress() (string, error) {
	if c.bindFlag != nil && strings.TrimSpace(*c.bindFlag) != "" {
		return strings.TrimSpace(*c.bindFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Paths.APIBind, nil
}

func (c *commandContext) withClient(ctx context.Context, fn func(context.Context, *api.Client) error) error {
	bind, err := c.bindAddress()
	if err != nil {
		return err
	}
	client, err := api.NewClient(bind)
	if err != nil {
		return err
	}
	err = fn(ctx, client)
	if errors.Is(err, api.ErrDaemonUnavailable) {
		return errors.New("daemon is not reachable at " + bind + "; start it with `permavid daemon`")
	}
	return err
}

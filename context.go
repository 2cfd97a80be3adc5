package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"trackcurator/backend"
)

type commandContext struct {
	configFlag    *string
	logLevelFlag  *string
	logFormatFlag *string
	jsonFlag      *bool

	once       sync.Once
	app        *App
	configPath string
	logCloser  io.Closer
	err        error
}

func newCommandContext(configFlag, logLevelFlag, logFormatFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logLevelFlag:  logLevelFlag,
		logFormatFlag: logFormatFlag,
		jsonFlag:      jsonFlag,
	}
}

// ensureApp loads the configuration and builds the logger once per process.
func (c *commandContext) ensureApp(cmd *cobra.Command) (*App, error) {
	c.once.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := backend.LoadConfig(path)
		if err != nil {
			c.err = fmt.Errorf("load config: %w", err)
			return
		}
		c.configPath = resolved

		logOpts := backend.LogOptions{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
			Output: cmd.ErrOrStderr(),
		}
		if v := flagValue(c.logLevelFlag); v != "" {
			logOpts.Level = v
		}
		if v := flagValue(c.logFormatFlag); v != "" {
			logOpts.Format = v
		}
		logger, closer, err := backend.NewLogger(logOpts)
		if err != nil {
			c.err = fmt.Errorf("init logger: %w", err)
			return
		}
		c.logCloser = closer
		c.app = NewApp(cfg, logger)
	})
	return c.app, c.err
}

func (c *commandContext) close() error {
	if c.logCloser == nil {
		return nil
	}
	err := c.logCloser.Close()
	c.logCloser = nil
	return err
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func flagValue(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

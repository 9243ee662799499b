package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/bootstrap"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	"github.com/noah-isme/etd-pipeline/pkg/logger"
)

// commandContext lazily connects to the pipeline's stores the first time a
// command needs them.
type commandContext struct {
	once     sync.Once
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *bootstrap.Pipeline
	err      error
}

func (c *commandContext) ensurePipeline(ctx context.Context) (*bootstrap.Pipeline, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = fmt.Errorf("load config: %w", err)
			return
		}
		logr, err := logger.New(cfg)
		if err != nil {
			c.err = fmt.Errorf("init logger: %w", err)
			return
		}
		p, err := bootstrap.New(ctx, cfg, logr)
		if err != nil {
			c.err = err
			return
		}
		c.cfg, c.logger, c.pipeline = cfg, logr, p
	})
	return c.pipeline, c.err
}

func (c *commandContext) close() {
	if c.pipeline != nil {
		c.pipeline.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func parseThesisIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid thesis id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

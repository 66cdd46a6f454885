package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

const (
	cleanerTimeout        = 10 * time.Second
	loggerShutdownTimeout = 3 * time.Second
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner runs shutdown callbacks in reverse registration order, then shuts
// the logger down last.
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	cleaning       bool
	loggerShutdown Callable
}

func NewCleaner(loggerShutdown Callable) *Cleaner {
	return &Cleaner{loggerShutdown: loggerShutdown}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then runs Clean.
func (c *Cleaner) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Info("Received interrupt signal, shutting down")
	return c.Clean()
}

// Clean invokes every registered callable once. Later calls are no-ops.
func (c *Cleaner) Clean() error {
	c.mu.Lock()
	if c.cleaning {
		c.mu.Unlock()
		return nil
	}
	c.cleaning = true
	cleanersCopy := make([]Callable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	c.mu.Unlock()

	logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for i := len(cleanersCopy) - 1; i >= 0; i-- {
		if err := invoke(cleanersCopy[i], cleanerTimeout); err != nil {
			logger.ErrorF("Cleaner #%d (%T) failed: %v", i+1, cleanersCopy[i], err)
			errs = append(errs, fmt.Errorf("cleaner #%d: %w", i+1, err))
		}
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup", len(errs))
	} else {
		logger.Debug("All cleaners executed successfully")
	}
	logger.Info("Cleanup finished, server offline")

	if c.loggerShutdown != nil {
		if err := invoke(c.loggerShutdown, loggerShutdownTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invoke(callable Callable, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return callable.Invoke(ctx)
}

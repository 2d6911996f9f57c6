// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shutdown turns SIGINT/SIGTERM into a cancelled context and bounds how long the
// process may take to wind down afterwards.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is how long shutdown tasks may run after the signal. A gateway may be in the
// middle of a cycle, so this must cover t plus the delivery of one buffer.
const DefaultTimeout = 30 * time.Second

type GracefulShutdownHandler interface {
	Context() context.Context // Cancelled once a shutdown starts.
	Shutdown()                // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool       // Quickly checks if a shutdown is in progress.
	Done()                    // Marks the shutdown tasks as complete.
	Wait()                    // Blocks until Done was called.
}

type gracefulShutdown struct {
	quit    chan os.Signal
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
	exit    func(code int)
	log     *zap.SugaredLogger
}

// NewGracefulShutdown starts listening for SIGINT/SIGTERM. Once a signal arrives the context
// is cancelled. If Done is not called within timeout the process exits with status 1.
func NewGracefulShutdown(timeout time.Duration, log *zap.SugaredLogger) GracefulShutdownHandler {
	return newGracefulShutdown(timeout, log, os.Exit)
}

func newGracefulShutdown(timeout time.Duration, log *zap.SugaredLogger, exit func(int)) *gracefulShutdown {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	gs := &gracefulShutdown{
		quit:    make(chan os.Signal, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		timeout: timeout,
		exit:    exit,
		log:     log,
	}

	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	go gs.watch()

	return gs
}

func (gs *gracefulShutdown) watch() {
	select {
	case sig := <-gs.quit:
		gs.log.Infow("Received signal, shutting down", "signal", sig.String())
	case <-gs.done:
		signal.Stop(gs.quit)

		return
	}

	signal.Stop(gs.quit)
	gs.cancel()

	gs.log.Infow("Waiting for shutdown tasks to complete", "timeout", gs.timeout)

	timer := time.NewTimer(gs.timeout)
	defer timer.Stop()

	select {
	case <-gs.done:
		gs.log.Info("Shutdown tasks completed. Ready to exit.")
	case <-timer.C:
		gs.log.Errorw("Shutdown tasks did not complete in time", "timeout", gs.timeout)
		_ = gs.log.Sync()
		gs.exit(1)
	}
}

func (gs *gracefulShutdown) Context() context.Context {
	return gs.ctx
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	return gs.ctx.Err() != nil
}

func (gs *gracefulShutdown) Shutdown() {
	// Only send a SIGTERM signal if we are not already shutting down.
	if !gs.ShuttingDown() {
		select {
		case gs.quit <- syscall.SIGTERM:
		default:
		}
	}
}

func (gs *gracefulShutdown) Done() {
	gs.once.Do(func() { close(gs.done) })
}

func (gs *gracefulShutdown) Wait() {
	<-gs.done
}

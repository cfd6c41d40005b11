// Package sbiinit sequences firmware entry on every hart: it picks the
// cold-boot hart, holds the other harts until cold boot has finished, and
// then lets each of them run its own bring-up.
package sbiinit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/bringup/internal/platform"
)

// ErrColdBootFailed is returned to harts that were waiting for a cold boot
// that did not complete.
var ErrColdBootFailed = errors.New("sbiinit: cold boot failed")

// Options configures a Sequencer.
type Options struct {
	// BootHart selects the cold-boot hart. A negative value lets the first
	// hart to enter win.
	BootHart int
	// OnReady is called on each hart once it is ready to hand off to the
	// next stage.
	OnReady func(hart uint32, role platform.Role)
	Logger  *slog.Logger
}

// Sequencer is the boot protocol for one boot cycle of a platform.
type Sequencer struct {
	plat     *platform.Platform
	bootHart int
	onReady  func(uint32, platform.Role)
	logger   *slog.Logger

	lottery atomic.Bool

	releaseOnce sync.Once
	released    chan struct{}
	coldErr     error
}

// New returns a sequencer for p.
func New(p *platform.Platform, opts Options) *Sequencer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		plat:     p,
		bootHart: opts.BootHart,
		onReady:  opts.OnReady,
		logger:   logger,
		released: make(chan struct{}),
	}
}

func (s *Sequencer) role(hart uint32) platform.Role {
	if s.bootHart >= 0 {
		return platform.Role(int(hart) == s.bootHart)
	}
	return platform.Role(s.lottery.CompareAndSwap(false, true))
}

func (s *Sequencer) release(err error) {
	s.releaseOnce.Do(func() {
		s.coldErr = err
		close(s.released)
	})
}

// Released is closed once cold boot has finished, successfully or not.
func (s *Sequencer) Released() <-chan struct{} {
	return s.released
}

// Init is the firmware entry of hart. The cold-boot hart boots the platform
// and releases the others. Every other hart waits for that release, or for
// ctx to end, before running its warm bring-up.
func (s *Sequencer) Init(ctx context.Context, hart uint32) error {
	return s.enter(ctx, hart, s.role(hart))
}

// Join boots a hart that comes online after the boot cycle started. It never
// performs cold boot.
func (s *Sequencer) Join(ctx context.Context, hart uint32) error {
	return s.enter(ctx, hart, platform.WarmBoot)
}

func (s *Sequencer) enter(ctx context.Context, hart uint32, role platform.Role) error {
	logger := s.logger.With("hart", hart, "role", role)

	if role == platform.ColdBoot {
		err := s.plat.Boot(hart, platform.ColdBoot)
		s.release(err)
		if err != nil {
			return err
		}
	} else {
		logger.Debug("waiting for cold boot")
		select {
		case <-s.released:
		case <-ctx.Done():
			return fmt.Errorf("sbiinit: hart %d: %w", hart, ctx.Err())
		}
		if s.coldErr != nil {
			return fmt.Errorf("hart %d: %w: %w", hart, ErrColdBootFailed, s.coldErr)
		}
		if err := s.plat.Boot(hart, platform.WarmBoot); err != nil {
			return err
		}
	}

	logger.Info("hart ready for handoff")
	if s.onReady != nil {
		s.onReady(hart, role)
	}
	return nil
}

// Run enters every hart in harts concurrently and waits for all of them. It
// returns the first failure.
func (s *Sequencer) Run(ctx context.Context, harts []uint32) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, hart := range harts {
		g.Go(func() error {
			if err := s.Init(ctx, hart); err != nil {
				s.logger.Error("bring-up failed", "hart", hart, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

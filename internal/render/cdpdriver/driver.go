// Package cdpdriver implements render.Driver on top of chromedp.
package cdpdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobinfo-extractor/internal/environment"
	"github.com/JakeFAU/jobinfo-extractor/internal/render"
)

const readyPollInterval = 100 * time.Millisecond

// Driver launches a dedicated Chrome process per call to Launch.
type Driver struct {
	logger *zap.Logger
}

// New returns a chromedp-backed driver.
func New(logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{logger: logger}
}

// Launch starts Chrome with the resolved binary and flags and waits until the
// DevTools connection is usable.
func (d *Driver) Launch(ctx context.Context, spec environment.LaunchSpec) (render.Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if spec.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(spec.ExecPath))
	}
	if !spec.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if spec.ViewportWidth > 0 && spec.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(spec.ViewportWidth, spec.ViewportHeight))
	}
	if spec.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(spec.UserAgent))
	}
	for _, f := range spec.Flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}

	// The allocator outlives the launch call; it is bound to Close, not ctx.
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
	)

	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	d.logger.Debug("browser launched", zap.String("exec_path", spec.ExecPath))
	return &browser{
		ctx:             browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		userAgent:       spec.UserAgent,
	}, nil
}

type browser struct {
	ctx             context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	userAgent       string

	once     sync.Once
	closeErr error
}

func (b *browser) NewTab(ctx context.Context) (render.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	t := &tab{ctx: tabCtx}

	// The first Run allocates the target and ties its lifetime to the context
	// it was given, so it must run on the undecorated tab context.
	stopForward := forwardCancel(ctx, cancel)
	err := chromedp.Run(tabCtx)
	stopForward()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	err = t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.userAgent != "" {
			if err := emulation.SetUserAgentOverride(b.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	}))
	if err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

// Close gracefully shuts Chrome down and then releases the allocator, which
// kills the process if it is still alive.
func (b *browser) Close() error {
	b.once.Do(func() {
		err := chromedp.Cancel(b.ctx)
		b.browserCancel()
		b.allocatorCancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close browser: %w", err)
		}
	})
	return b.closeErr
}

type tab struct {
	ctx context.Context
}

// run executes actions on the tab, honoring the deadline and cancellation of ctx.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(t.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(t.ctx)
	}
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("chromedp run: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (t *tab) SetViewport(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	return t.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *tab) WaitReady(ctx context.Context) error {
	var ready bool
	return t.run(ctx, chromedp.Poll(`document.readyState === "complete"`, &ready,
		chromedp.WithPollingInterval(readyPollInterval),
	))
}

func (t *tab) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

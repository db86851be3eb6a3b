package intercept

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jrepp/mockstore/pkg/client"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

// Restore puts the original library back into the driver.
//
// Without connected callers, or when the ephemeral service is not running,
// this happens immediately. Otherwise every connected caller is closed and
// the restoration runs once the resulting idle shutdown is announced, or
// once every close returned and the service is no longer running. If ctx
// ends first the restoration is forced and ctx's error returned.
func (i *Interceptor) Restore(ctx context.Context) error {
	if !i.Installed() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "intercept.Restore")
	defer span.End()

	connected := i.registry.Connected()
	span.SetAttributes(attribute.Int("connected", len(connected)))
	if len(connected) == 0 || i.ctrl.Phase() != procmgr.PhaseRunning {
		i.finishRestore()
		return nil
	}

	restored := make(chan struct{})
	var once sync.Once
	finish := func() {
		once.Do(func() {
			i.finishRestore()
			close(restored)
		})
	}

	// subscribed before the first close so the stop cannot be missed
	cancel := i.ctrl.OnceStopped(finish)

	closeCtx := context.WithoutCancel(ctx)
	var closing sync.WaitGroup
	for _, rec := range connected {
		rec := rec
		closing.Add(1)
		go func() {
			defer closing.Done()
			if err := rec.Caller.Close(closeCtx); err != nil {
				i.logger.Warn("intercept: close failed", "index", rec.Index, "id", rec.ID, "error", err)
			}
		}()
	}

	// the service may already be down with no stop left to announce
	go func() {
		closing.Wait()
		if i.ctrl.Phase() != procmgr.PhaseRunning {
			finish()
		}
	}()

	select {
	case <-restored:
		return nil
	case <-ctx.Done():
		cancel()
		select {
		case <-restored:
			return nil
		default:
		}
		finish()
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		i.logger.Warn("intercept: restore forced", "connected", len(i.registry.Connected()), "error", ctx.Err())
		return ctx.Err()
	}
}

func (i *Interceptor) finishRestore() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.installed {
		return
	}

	i.driver.Use(i.original)
	i.registry.Clear()
	i.ctrl.Reset()
	i.ctrl.Release(i)
	i.installed = false

	i.logger.Info("intercept: restored")
}

// ReconnectAll restores the original library and replays every recorded
// call through it with the caller's original arguments. Calls are submitted
// in their original order and run concurrently; each caller's own Done still
// fires. The first error is returned once every replay completed.
func (i *Interceptor) ReconnectAll(ctx context.Context) error {
	records := i.registry.Records()

	if err := i.Restore(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "intercept.ReconnectAll")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	lib := i.driver.Library()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	complete := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			first = err
		}
	}

	for _, rec := range records {
		args := rec.Args.Clone()
		userDone := args.Done

		var once sync.Once
		wg.Add(1)
		args.Done = func(err error) {
			once.Do(func() {
				if userDone != nil {
					userDone(err)
				}
				complete(err)
				wg.Done()
			})
		}

		i.logger.Debug("intercept: reconnecting", "index", rec.Index, "method", rec.Kind, "addr", target(rec))

		if err := replay(ctx, lib, rec, args); err != nil {
			args.Done(err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if first != nil {
		span.RecordError(first)
		span.SetStatus(codes.Error, first.Error())
	}
	return first
}

func replay(ctx context.Context, lib client.Library, rec Record, args client.Args) error {
	switch rec.Kind {
	case client.MethodOpenSet:
		return lib.OpenSet(ctx, rec.Caller, args)
	default:
		return lib.Open(ctx, rec.Caller, args)
	}
}

func target(rec Record) any {
	if rec.Kind == client.MethodOpenSet {
		return rec.Args.Seeds
	}
	return rec.Args.Addr()
}

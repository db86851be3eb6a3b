package intercept

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jrepp/mockstore/pkg/client"
)

// Reset deletes every document from every collection of every registered
// caller. Deletions run in parallel; all of them are awaited and their
// errors are joined. Outside of interception Reset does nothing.
func (i *Interceptor) Reset(ctx context.Context) error {
	if !i.Installed() {
		return nil
	}

	cols := i.registry.Collections()
	if len(cols) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "intercept.Reset")
	defer span.End()
	span.SetAttributes(attribute.Int("collections", len(cols)))

	start := time.Now()
	errs := make([]error, len(cols))

	var wg sync.WaitGroup
	for idx, col := range cols {
		idx, col := idx, col
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[idx] = client.DeleteAll(ctx, col)
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	i.metrics.DataReset(len(cols), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("intercept: reset failed", "collections", len(cols), "error", err)
		return err
	}

	i.logger.Debug("intercept: reset", "collections", len(cols), "duration", time.Since(start))
	return nil
}

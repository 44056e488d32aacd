package history

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/thebtf/searchlog/internal/history"

// metrics holds the history instruments. Without an SDK installed the global
// meter provider hands out no-op instruments.
type metrics struct {
	recorded   metric.Int64Counter
	suppressed metric.Int64Counter
	evicted    metric.Int64Counter
	faults     metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	return &metrics{
		recorded:   counter(meter, "searchlog.history.recorded", "Queries appended to history"),
		suppressed: counter(meter, "searchlog.history.suppressed", "Queries dropped by the dedup window"),
		evicted:    counter(meter, "searchlog.history.evicted", "Entries removed by the capacity sweep"),
		faults:     counter(meter, "searchlog.history.backend_faults", "Backend calls that failed and were degraded"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, n int64) {
	if n <= 0 {
		return
	}
	c.Add(context.WithoutCancel(ctx), n)
}

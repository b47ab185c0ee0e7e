package internal

import (
	"context"
	"sync"
)

// TelemetryEmitter receives store measurements. Service wiring can register an
// OpenTelemetry-backed emitter or a test stub; the default drops everything.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.RWMutex
	teleImpl TelemetryEmitter = func(context.Context, string, map[string]string, any) {}
)

// RegisterTelemetryEmitter installs fn. A nil fn restores the no-op emitter.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(context.Context, string, map[string]string, any) {}
		return
	}
	teleImpl = fn
}

func emitter() TelemetryEmitter {
	teleMu.RLock()
	defer teleMu.RUnlock()
	return teleImpl
}

// EmitLatency records the duration of a store operation in milliseconds.
// name: "strata_operation_latency_ms", label {"op": "save|load|delete|bootstrap"}
func EmitLatency(ctx context.Context, op string, ms int64) {
	emitter()(ctx, "strata_operation_latency_ms", map[string]string{"op": op}, ms)
}

// EmitRowCount records rows written or read per table.
// name: "strata_row_count", label {"table": "<table>"}
func EmitRowCount(ctx context.Context, table string, rows int64) {
	emitter()(ctx, "strata_row_count", map[string]string{"table": table}, rows)
}

// EmitObjectFailure counts schema objects bootstrap could not apply.
// name: "strata_bootstrap_failures", label {"object": "<name>"}
func EmitObjectFailure(ctx context.Context, object string) {
	emitter()(ctx, "strata_bootstrap_failures", map[string]string{"object": object}, int64(1))
}

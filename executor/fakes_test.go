package executor

import (
	"context"
	"errors"
	"time"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
	"github.com/iceos/core/node"
)

// errBoom is a shared sentinel used to assert that executors wrap
// collaborator errors rather than swallowing or panicking on them.
var errBoom = errors.New("boom")

// fakeTool is a minimal Tool used across executor tests.
type fakeTool struct {
	output map[string]any
	err    error
	calls  int
}

func (f *fakeTool) Invoke(_ context.Context, _ map[string]any, _ string) (map[string]any, error) {
	f.calls++
	return f.output, f.err
}

// fakeProvider is a minimal llmprovider.Provider stub.
type fakeProvider struct {
	resp llmprovider.CompletionResponse
	err  error
}

func (f *fakeProvider) Complete(_ context.Context, _ llmprovider.CompletionRequest) (llmprovider.CompletionResponse, error) {
	return f.resp, f.err
}

// fakeSubPlans is a minimal SubPlanRunner used by loop/parallel/recursive/
// workflow executor tests.
type fakeSubPlans struct {
	runNodes     func(ctx context.Context, nodes []node.Spec, ectx *execctx.Context) error
	runBlueprint func(ctx context.Context, id ice.BlueprintID, input map[string]any) (map[string]any, error)
}

func (f *fakeSubPlans) RunNodes(ctx context.Context, nodes []node.Spec, ectx *execctx.Context) error {
	return f.runNodes(ctx, nodes, ectx)
}

func (f *fakeSubPlans) RunBlueprint(ctx context.Context, id ice.BlueprintID, input map[string]any) (map[string]any, error) {
	return f.runBlueprint(ctx, id, input)
}

// fakeSandbox is a minimal SandboxRunner stub.
type fakeSandbox struct {
	out map[string]any
	err error
}

func (f *fakeSandbox) Run(_ context.Context, _ string, _ map[string]any, _, _ int) (map[string]any, error) {
	return f.out, f.err
}

// recordingLogger captures every call so tests can assert on message/level
// without pulling in zerolog.
type recordingLogger struct {
	debugs, infos, warns, errors []string
}

func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...any) { l.debugs = append(l.debugs, msg) }
func (l *recordingLogger) Info(_ context.Context, msg string, _ ...any)  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any)  { l.warns = append(l.warns, msg) }
func (l *recordingLogger) Error(_ context.Context, msg string, _ ...any) { l.errors = append(l.errors, msg) }

// recordingMetrics captures every counter/gauge/timer call by name.
type recordingMetrics struct {
	counters map[string]float64
	gauges   map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (m *recordingMetrics) IncCounter(name string, value float64, _ ...string) { m.counters[name] += value }
func (m *recordingMetrics) RecordTimer(string, time.Duration, ...string)       {}
func (m *recordingMetrics) RecordGauge(name string, value float64, _ ...string) { m.gauges[name] = value }

// fakeEpisodic is a minimal memory.Episodic stub that records Append calls
// and returns a fixed Recent() result.
type fakeEpisodic struct {
	recent  []map[string]any
	appends []map[string]any
}

func (f *fakeEpisodic) Append(_ context.Context, entry map[string]any) error {
	f.appends = append(f.appends, entry)
	return nil
}

func (f *fakeEpisodic) Recent(_ context.Context, n int) ([]map[string]any, error) {
	return f.recent, nil
}

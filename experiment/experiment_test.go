package experiment_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicktrail/api/experiment"
	"clicktrail/api/observability"
	"clicktrail/api/store"
	"clicktrail/api/tracker"
	"clicktrail/api/tracker/trackertest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newService(t *testing.T, kv store.KV) (*experiment.Service, *trackertest.Recorder, *observability.Metrics) {
	t.Helper()
	rec := &trackertest.Recorder{}
	tr := tracker.New(rec, tracker.Options{Enabled: true, Logger: discard})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return experiment.NewService(kv, tr, experiment.DefaultTables(), metrics, discard), rec, metrics
}

func TestHash(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", 0},
		{"a", 97},
		{"alice", 92903040},
		{"user_42", 147134606},
		{"user_7", 836030269},
		{"user-1", 836031825}, // wraps negative before abs
		{"héllo", 103094734},
		{"😀", 1772899}, // surrogate pair
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, experiment.Hash(tt.in), tt.in)
	}
	assert.Equal(t, 6, experiment.Bucket("user_42"))
	assert.Equal(t, 69, experiment.Bucket("user_7"))
}

func TestGetVariantIsStable(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	svc, rec, _ := newService(t, kv)

	first := svc.GetVariant(ctx, "dashboard_layout", "user_7")
	assert.Equal(t, "variant_a", first)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, svc.GetVariant(ctx, "dashboard_layout", "user_7"))
	}
	assigned := rec.Named("Experiment Assigned")
	require.Len(t, assigned, 1)
	assert.Equal(t, "user_7", assigned[0].DistinctID)
	assert.Equal(t, 69, assigned[0].Properties["bucket"])

	stored, err := kv.Get(ctx, "experiment_dashboard_layout_user_7")
	require.NoError(t, err)
	assert.Equal(t, "variant_a", stored)

	// A reload builds a fresh service over the same durable storage.
	reloaded, rec2, _ := newService(t, kv)
	assert.Equal(t, first, reloaded.GetVariant(ctx, "dashboard_layout", "user_7"))
	assert.Empty(t, rec2.Named("Experiment Assigned"))
}

func TestStoredVariantWins(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "experiment_dashboard_layout_user_42", "variant_a"))
	svc, _, _ := newService(t, kv)

	assert.Equal(t, "variant_a", svc.GetVariant(ctx, "dashboard_layout", "user_42"))
}

func TestGetVariantDefaults(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	svc, rec, metrics := newService(t, kv)

	assert.Equal(t, experiment.Control, svc.GetVariant(ctx, "no_such_experiment", "user_7"))
	assert.Equal(t, experiment.Control, svc.GetVariant(ctx, "dashboard_layout", ""))
	assert.Zero(t, kv.Len())
	assert.Zero(t, rec.Calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AssignmentsTotal.WithLabelValues("experiment", "default")))
}

func TestBucketingDistribution(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, store.NewMemoryKV())

	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		counts[svc.GetVariant(ctx, "dashboard_layout", fmt.Sprintf("user_%d", i))]++
	}

	require.Len(t, counts, 2)
	for variant, c := range counts {
		share := float64(c) / n
		assert.InDelta(t, 0.5, share, 0.05, "variant %s got %.3f", variant, share)
	}
}

func TestThreeWaySplit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, store.NewMemoryKV())

	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		counts[svc.GetVariant(ctx, "onboarding_flow", fmt.Sprintf("user_%d", i))]++
	}
	assert.InDelta(t, 0.34, float64(counts[experiment.Control])/n, 0.05)
	assert.InDelta(t, 0.33, float64(counts[experiment.VariantA])/n, 0.05)
	assert.InDelta(t, 0.33, float64(counts[experiment.VariantB])/n, 0.05)
	assert.Len(t, counts, 3)
}

func TestIsFeatureEnabled(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	svc, rec, _ := newService(t, kv)

	// bucket 6 < 50, bucket 69 >= 50
	assert.True(t, svc.IsFeatureEnabled(ctx, "new_dashboard", "user_42", false))
	assert.False(t, svc.IsFeatureEnabled(ctx, "new_dashboard", "user_7", true))
	assert.True(t, svc.IsFeatureEnabled(ctx, "dark_mode", "user_7", false))

	for i := 0; i < 3; i++ {
		svc.IsFeatureEnabled(ctx, "new_dashboard", "user_42", false)
	}
	evaluated := rec.Named("Feature Flag Evaluated")
	require.Len(t, evaluated, 3)
	assert.Equal(t, "new_dashboard", evaluated[0].Properties["feature_name"])
	assert.Equal(t, true, evaluated[0].Properties["enabled"])
	assert.Equal(t, 50, evaluated[0].Properties["rollout_percentage"])

	stored, err := kv.Get(ctx, "feature_flag_new_dashboard_user_7")
	require.NoError(t, err)
	assert.Equal(t, "false", stored)
}

func TestUnknownFeatureUsesDefault(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	svc, rec, _ := newService(t, kv)

	assert.True(t, svc.IsFeatureEnabled(ctx, "mystery", "user_42", true))
	assert.False(t, svc.IsFeatureEnabled(ctx, "mystery", "user_42", false))
	assert.False(t, svc.IsFeatureEnabled(ctx, "dark_mode", "", false))
	assert.Zero(t, kv.Len())
	assert.Zero(t, rec.Calls())
}

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) { return "", errors.New("private mode") }
func (failingKV) Set(context.Context, string, string) error    { return errors.New("private mode") }
func (failingKV) Delete(context.Context, string) error         { return errors.New("private mode") }

func TestStorageFailureRederives(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, failingKV{})

	assert.Equal(t, "variant_a", svc.GetVariant(ctx, "dashboard_layout", "user_7"))
	assert.Equal(t, "variant_a", svc.GetVariant(ctx, "dashboard_layout", "user_7"))
	assert.True(t, svc.IsFeatureEnabled(ctx, "new_dashboard", "user_42", false))
}

// blockingKV stalls reads of one key until release is closed.
type blockingKV struct {
	*store.MemoryKV
	key     string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingKV) Get(ctx context.Context, key string) (string, error) {
	if key == b.key {
		close(b.entered)
		<-b.release
	}
	return b.MemoryKV.Get(ctx, key)
}

func TestSlowStorageDoesNotBlockOtherUsers(t *testing.T) {
	ctx := context.Background()
	kv := &blockingKV{
		MemoryKV: store.NewMemoryKV(),
		key:      "experiment_dashboard_layout_user_7",
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc, _, _ := newService(t, kv)

	slow := make(chan string, 1)
	go func() { slow <- svc.GetVariant(ctx, "dashboard_layout", "user_7") }()
	<-kv.entered

	done := make(chan string, 1)
	go func() { done <- svc.GetVariant(ctx, "dashboard_layout", "user_42") }()
	select {
	case v := <-done:
		assert.Equal(t, experiment.Control, v)
	case <-time.After(2 * time.Second):
		t.Fatal("assignment for user_42 waited on user_7's storage read")
	}

	close(kv.release)
	assert.Equal(t, experiment.VariantA, <-slow)
}

func TestConcurrentAssignmentTracksOnce(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newService(t, store.NewMemoryKV())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.GetVariant(ctx, "dashboard_layout", "user_7")
			svc.IsFeatureEnabled(ctx, "new_dashboard", "user_7", false)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.Named("Experiment Assigned"), 1)
	assert.Len(t, rec.Named("Feature Flag Evaluated"), 1)
}

func TestTrackConversion(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newService(t, store.NewMemoryKV())

	svc.TrackConversion(ctx, "pricing_page", "user_7", "checkout", 49.99)

	conv := rec.Named("Experiment Conversion")
	require.Len(t, conv, 1)
	p := conv[0].Properties
	assert.Equal(t, experiment.VariantA, p["variant"])
	assert.Equal(t, "checkout", p["conversion_metric"])
	assert.Equal(t, 49.99, p["conversion_value"])
}

func TestDefaultTablesUseKnownVariants(t *testing.T) {
	require.NoError(t, experiment.DefaultTables().Validate())

	bad := experiment.Tables{Experiments: map[string][]experiment.Split{
		"dup": {{Variant: experiment.Control, Weight: 50}, {Variant: experiment.Control, Weight: 50}},
	}}
	assert.ErrorContains(t, bad.Validate(), "twice")
}

func TestLoadTables(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file keeps defaults", func(t *testing.T) {
		tables, err := experiment.LoadTables(filepath.Join(dir, "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, experiment.DefaultTables(), tables)
	})

	t.Run("file overrides and extends", func(t *testing.T) {
		path := filepath.Join(dir, "experiments.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
experiments:
  checkout_button:
    - variant: control
      weight: 50
    - variant: variant_b
      weight: 50
flags:
  new_dashboard: 100
`), 0o600))

		tables, err := experiment.LoadTables(path)
		require.NoError(t, err)
		assert.Equal(t, []experiment.Split{{Variant: "control", Weight: 50}, {Variant: "variant_b", Weight: 50}}, tables.Experiments["checkout_button"])
		assert.Contains(t, tables.Experiments, "dashboard_layout")
		assert.Equal(t, 100, tables.Flags["new_dashboard"])
		assert.Equal(t, 25, tables.Flags["advanced_analytics"])
	})

	t.Run("invalid weights are rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("flags:\n  new_dashboard: 150\n"), 0o600))

		_, err := experiment.LoadTables(path)
		assert.ErrorContains(t, err, "new_dashboard")
	})

	t.Run("unknown variant names are rejected", func(t *testing.T) {
		path := filepath.Join(dir, "names.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
experiments:
  checkout_button:
    - variant: control
      weight: 50
    - variant: green
      weight: 50
`), 0o600))

		tables, err := experiment.LoadTables(path)
		assert.ErrorContains(t, err, `unknown variant "green"`)
		assert.NotContains(t, tables.Experiments, "checkout_button")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("experiments: [\n"), 0o600))

		_, err := experiment.LoadTables(path)
		assert.Error(t, err)
	})
}

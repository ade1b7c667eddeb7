package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/procscope/procscope/internal/codesignpool"
	"github.com/procscope/procscope/internal/config"
	"github.com/procscope/procscope/internal/procmodel"
	"github.com/procscope/procscope/internal/procstore"
)

func testConfig() config.ScanConfig {
	return config.ScanConfig{
		MinIntervalSec:        5,
		MaxIntervalSec:        15,
		CollectorTimeoutSec:   2,
		BatchSize:             10,
		ProcessCap:            200,
		SignatureWrapperMs:    200,
		HighOutboundThreshold: 50,
	}
}

func fixedCollectors(raw []procmodel.RawProcess, conns map[int]*procmodel.ConnectionSummary, launchd map[int]string) CollectorSet {
	return CollectorSet{
		ListProcesses: func(ctx context.Context) []procmodel.RawProcess { return raw },
		Connections:   func(ctx context.Context) map[int]*procmodel.ConnectionSummary { return conns },
		LaunchDaemons: func(ctx context.Context) map[int]string { return launchd },
	}
}

func TestRunScan_CommitsSortedRows(t *testing.T) {
	raw := []procmodel.RawProcess{
		{PID: 1, Name: "safe", CPU: 1},
		{PID: 2, Name: "xmrig", Cmd: "/usr/local/bin/xmrig --pool pool.supportxmr.com:3333", CPU: 90},
	}
	store := procstore.New()
	o := New(testConfig(), store, codesignpool.InlineFallback{Collector: func(ctx context.Context, p string) *procmodel.Signature { return nil }},
		nil, nil, nil, fixedCollectors(raw, nil, nil), Environment{HostUser: "alice", HomeDir: "/Users/alice"})

	_, err := o.runScan(context.Background())
	require.NoError(t, err)

	rows := store.Snapshot()
	require.Len(t, rows, 2)
	require.Equal(t, 2, rows[0].PID) // cryptominer HIGH sorts before LOW
}

func TestRunScan_ProcessCapTruncatesToPolicyLimit(t *testing.T) {
	var raw []procmodel.RawProcess
	for i := 1; i <= 250; i++ {
		raw = append(raw, procmodel.RawProcess{PID: i, Name: "proc"})
	}
	store := procstore.New()
	cfg := testConfig()
	o := New(cfg, store, nil, nil, nil, nil, fixedCollectors(raw, nil, nil), Environment{})

	_, err := o.runScan(context.Background())
	require.NoError(t, err)
	require.Len(t, store.Snapshot(), 200)
}

func TestRunScan_ScannerCacheReusesUnchangedFingerprint(t *testing.T) {
	calls := 0
	raw := []procmodel.RawProcess{{PID: 5, Name: "steady", Cmd: "/bin/steady"}}
	store := procstore.New()
	cfg := testConfig()
	cfg.HighOutboundThreshold = 0 // force signature path so we can count calls
	sig := codesignpool.InlineFallback{Collector: func(ctx context.Context, p string) *procmodel.Signature {
		calls++
		return &procmodel.Signature{Signed: true}
	}}
	o := New(cfg, store, sig, nil, nil, nil, fixedCollectors(raw, map[int]*procmodel.ConnectionSummary{
		5: {Outbound: 1},
	}, nil), Environment{})

	_, err := o.runScan(context.Background())
	require.NoError(t, err)
	_, err = o.runScan(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, calls, "second scan should reuse the cached classification, not re-fetch a signature")
}

func TestRunScan_PrunesCacheForDisappearedPID(t *testing.T) {
	store := procstore.New()
	cfg := testConfig()
	o := New(cfg, store, nil, nil, nil, nil, fixedCollectors([]procmodel.RawProcess{{PID: 1, Name: "a"}}, nil, nil), Environment{})
	_, err := o.runScan(context.Background())
	require.NoError(t, err)
	require.Len(t, o.cache, 1)

	o.collectors = fixedCollectors([]procmodel.RawProcess{{PID: 2, Name: "b"}}, nil, nil)
	_, err = o.runScan(context.Background())
	require.NoError(t, err)
	require.Len(t, o.cache, 1)
	_, stillHasOld := o.cache[1]
	require.False(t, stillHasOld)
}

func TestNextInterval_AdaptiveCadence(t *testing.T) {
	cfg := testConfig()

	critRows := []procmodel.Process{{Level: procmodel.LevelCRITICAL}}
	require.Equal(t, 5*time.Second, nextInterval(critRows, cfg))

	highRows := []procmodel.Process{{Level: procmodel.LevelHIGH}}
	require.Equal(t, 7*time.Second, nextInterval(highRows, cfg))

	var quietRows []procmodel.Process
	for i := 0; i < 5; i++ {
		quietRows = append(quietRows, procmodel.Process{Level: procmodel.LevelLOW})
	}
	require.Equal(t, 15*time.Second, nextInterval(quietRows, cfg))

	medRows := []procmodel.Process{{Level: procmodel.LevelMED}}
	require.Equal(t, 10*time.Second, nextInterval(medRows, cfg))
}

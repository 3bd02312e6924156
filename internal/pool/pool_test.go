package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/simpool/internal/domain"
	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/simulator/simtest"
	"github.com/vburojevic/simpool/internal/termination"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProcesses is an in-memory process table
type fakeProcesses struct {
	mu      sync.Mutex
	procs   []termination.Process
	killed  []int32
	killErr error
}

func (f *fakeProcesses) Processes(context.Context) ([]termination.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.procs), nil
}

func (f *fakeProcesses) Kill(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, pid)
	f.procs = slices.DeleteFunc(f.procs, func(p termination.Process) bool { return p.PID == pid })
	return nil
}

func (f *fakeProcesses) add(pid int32, name, udid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = append(f.procs, termination.Process{PID: pid, Name: name, Cmdline: name + " " + udid})
}

func (f *fakeProcesses) Killed() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.killed)
}

// gatedProcesses holds every Processes call until open is called
type gatedProcesses struct {
	fakeProcesses
	entered chan struct{}
	gate    chan struct{}
}

func newGatedProcesses() *gatedProcesses {
	return &gatedProcesses{entered: make(chan struct{}, 1), gate: make(chan struct{})}
}

func (g *gatedProcesses) Processes(ctx context.Context) ([]termination.Process, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.fakeProcesses.Processes(ctx)
}

func (g *gatedProcesses) open() { close(g.gate) }

type fixture struct {
	pool  *Pool
	set   *simtest.DeviceSet
	procs *fakeProcesses
	clock *clock.Mock
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		set:   simtest.NewDeviceSet(t.TempDir()),
		procs: &fakeProcesses{},
		clock: clock.NewMock(),
		reg:   prometheus.NewRegistry(),
	}
	cfg := Config{
		Gateway:    f.set,
		Processes:  f.procs,
		Clock:      f.clock,
		Registerer: f.reg,
		HistoryDir: filepath.Join(t.TempDir(), "history"),
	}
	for _, c := range configure {
		c(&cfg)
	}
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	f.pool = p
	return f
}

// advancing runs fn while moving the mock clock forward in poll-sized steps
func advancing(mock *clock.Mock, fn func() error) error {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
				mock.Add(DefaultPollInterval)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	err := fn()
	close(done)
	<-stopped
	return err
}

func udids(sims []*Simulator) []string {
	out := make([]string, len(sims))
	for i, s := range sims {
		out[i] = s.UDID()
	}
	return out
}

// checkInvariants asserts the allocated list and the options map agree
func checkInvariants(t *testing.T, p *Pool) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(p.allocated))
	for _, udid := range p.allocated {
		require.False(t, seen[udid], "%s allocated twice", udid)
		seen[udid] = true
		_, ok := p.options[udid]
		require.True(t, ok, "%s allocated without options", udid)
		_, cached := p.cache[udid]
		require.True(t, cached, "%s allocated but not cached", udid)
	}
	require.Len(t, p.options, len(p.allocated))
}

func TestNewRequiresGateway(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.set.Add("A", "iPhone 15", "iOS 17.0", domain.StateShutdown)
	b := f.set.Add("B", "iPhone 11", "iOS 13.0", domain.StateBooted)

	sims, err := f.pool.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.UDID, b.UDID}, udids(sims))

	simA, ok := f.pool.Get(a.UDID)
	require.True(t, ok)
	assert.Same(t, sims[0], simA)
	assert.Same(t, f.pool, simA.Pool())
	assert.Equal(t, "A", simA.Name())
	assert.Equal(t, domain.Configuration{DeviceType: "iPhone 15", Runtime: "iOS 17.0"}, simA.Configuration(), "inferred from the listing")
	assert.Equal(t, 1, simA.History().Len())

	t.Run("repeated refresh keeps identities", func(t *testing.T) {
		again, err := f.pool.Refresh(ctx)
		require.NoError(t, err)
		assert.Same(t, sims[0], again[0])
		assert.Same(t, sims[1], again[1])
	})

	t.Run("state changes fold into history", func(t *testing.T) {
		f.set.SetState(a.UDID, domain.StateBooting)
		_, err := f.pool.Refresh(ctx)
		require.NoError(t, err)
		f.set.SetState(a.UDID, domain.StateBooted)
		_, err = f.pool.Refresh(ctx)
		require.NoError(t, err)

		assert.Equal(t, domain.StateBooted, simA.State())
		assert.Equal(t, 3, simA.History().Len())
		assert.Equal(t, domain.StateBooted, simA.History().Current().State())
	})

	t.Run("late folds use the newest listing", func(t *testing.T) {
		row := simA.Device()
		row.State = domain.StateShutdown
		simA.update(row)
		row.State = domain.StateBooted
		simA.update(row)

		// The refresh that saw Booted folds first, the one that saw Shutdown last
		simA.foldState()
		simA.foldState()

		assert.Equal(t, domain.StateBooted, simA.History().Current().State())
		assert.Equal(t, 3, simA.History().Len())
	})

	t.Run("concurrent refreshes agree with the listing", func(t *testing.T) {
		f.set.SetState(b.UDID, domain.StateShutdown)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.pool.Refresh(ctx)
			}()
		}
		wg.Wait()

		simB, ok := f.pool.Get(b.UDID)
		require.True(t, ok)
		assert.Equal(t, domain.StateShutdown, simB.State())
		assert.Equal(t, domain.StateShutdown, simB.History().Current().State())
	})

	t.Run("unlisted simulators are evicted", func(t *testing.T) {
		require.NoError(t, f.set.Delete(ctx, b.UDID))
		sims, err := f.pool.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{a.UDID}, udids(sims))
		_, ok := f.pool.Get(b.UDID)
		assert.False(t, ok)
	})

	t.Run("listing failure surfaces", func(t *testing.T) {
		f.set.Errors["list"] = errors.New("CoreSimulatorService connection interrupted")
		defer delete(f.set.Errors, "list")
		_, err := f.pool.Refresh(ctx)
		assert.ErrorIs(t, err, ErrListFailure)
		assert.ErrorContains(t, err, "connection interrupted")
	})
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shut := f.set.Add("Shut", "iPhone 15", "iOS 17.0", domain.StateShutdown)
	booted := f.set.Add("Booted", "iPhone 11", "iOS 13.0", domain.StateBooted)
	booting := f.set.Add("Booting", "iPhone 11", "iOS 13.0", domain.StateBooting)

	sim, err := f.pool.Allocate(ctx, domain.Configuration{DeviceType: "iPhone 11", Runtime: "iOS 13.0", SkipKeyboardSetup: true}, domain.Reuse)
	require.NoError(t, err)
	require.Equal(t, booted.UDID, sim.UDID(), "first match in listing order")
	assert.True(t, sim.IsAllocated())

	all, err := f.pool.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{shut.UDID, booted.UDID, booting.UDID}, udids(all))

	allocated, err := f.pool.Allocated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{booted.UDID}, udids(allocated))

	unallocated, err := f.pool.Unallocated(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{shut.UDID, booting.UDID}, udids(unallocated))

	launched, err := f.pool.Launched(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{booted.UDID, booting.UDID}, udids(launched))

	summary, err := f.pool.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Allocated)
	assert.Equal(t, 2, summary.Unallocated)
	assert.Equal(t, 2, summary.Launched)
	assert.Equal(t, 1, summary.States[domain.StateShutdown])
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.set.Add("Spare", "iPhone 15", "iOS 17.0", domain.StateShutdown)

	sim, err := f.pool.Allocate(ctx, domain.Configuration{DeviceType: "iPhone 11", Runtime: "iOS 13.0"}, domain.Create|domain.EraseOnFree)
	require.NoError(t, err)

	desc := f.pool.Describe()
	assert.True(t, strings.HasPrefix(desc, "Pool: 2 simulators, 1 allocated\n"), desc)
	assert.Contains(t, desc, "Spare")
	assert.Contains(t, desc, sim.UDID()+" | Shutdown | iPhone 11, iOS 13.0 | allocated (create,erase_on_free)")
}

func TestStartupPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("spurious kill failure is surfaced", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		procs := &fakeProcesses{killErr: errors.New("operation not permitted")}
		procs.add(7, "launchd_sim", "ORPHAN")

		_, err := New(ctx, Config{Gateway: set, Processes: procs, KillSpuriousOnStart: true})
		assert.ErrorIs(t, err, ErrPreconditionFailure)
		assert.ErrorContains(t, err, "operation not permitted")
	})

	t.Run("spurious kill failure can be ignored", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		procs := &fakeProcesses{killErr: errors.New("operation not permitted")}
		procs.add(7, "launchd_sim", "ORPHAN")

		_, err := New(ctx, Config{Gateway: set, Processes: procs, KillSpuriousOnStart: true, IgnoreSpuriousKillFailure: true})
		assert.NoError(t, err)
	})

	t.Run("spurious helpers are killed", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		known := set.Add("Known", "iPhone 15", "iOS 17.0", domain.StateBooted)
		procs := &fakeProcesses{}
		procs.add(7, "launchd_sim", "ORPHAN")
		procs.add(8, "launchd_sim", known.UDID)

		_, err := New(ctx, Config{Gateway: set, Processes: procs, KillSpuriousOnStart: true})
		require.NoError(t, err)
		assert.Equal(t, []int32{7}, procs.Killed())
	})

	t.Run("delete all", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		a := set.Add("A", "iPhone 15", "iOS 17.0", domain.StateBooted)
		set.Add("B", "iPhone 15", "iOS 17.0", domain.StateShutdown)
		procs := &fakeProcesses{}
		procs.add(9, "launchd_sim", a.UDID)

		p, err := New(ctx, Config{Gateway: set, Processes: procs, DeleteAllOnStart: true})
		require.NoError(t, err)
		assert.Equal(t, []int32{9}, procs.Killed(), "killed before deletion")
		assert.Equal(t, 2, set.Calls("delete"))
		all, err := p.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("delete failure is a precondition failure", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		set.Add("A", "iPhone 15", "iOS 17.0", domain.StateShutdown)
		set.Errors["delete"] = errors.New("device busy")

		_, err := New(ctx, Config{Gateway: set, Processes: &fakeProcesses{}, DeleteAllOnStart: true})
		assert.ErrorIs(t, err, ErrPreconditionFailure)
		assert.ErrorIs(t, err, ErrDeleteFailure)
	})

	t.Run("kill all", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		a := set.Add("A", "iPhone 15", "iOS 17.0", domain.StateBooted)
		procs := &fakeProcesses{}
		procs.add(9, "launchd_sim", a.UDID)

		p, err := New(ctx, Config{Gateway: set, Processes: procs, KillAllOnStart: true})
		require.NoError(t, err)
		assert.Equal(t, []int32{9}, procs.Killed())
		sims, err := p.Launched(ctx)
		require.NoError(t, err)
		assert.Empty(t, sims)
	})

	t.Run("kill untracked", func(t *testing.T) {
		set := simtest.NewDeviceSet("")
		booted := set.Add("Booted", "iPhone 15", "iOS 17.0", domain.StateBooted)
		shut := set.Add("Shut", "iPhone 15", "iOS 17.0", domain.StateShutdown)
		procs := &fakeProcesses{}
		procs.add(1, "launchd_sim", booted.UDID)
		procs.add(2, "SimulatorTrampoline", shut.UDID)

		_, err := New(ctx, Config{Gateway: set, Processes: procs, KillUntrackedOnStart: true})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int32{1, 2}, procs.Killed())
		assert.Equal(t, 1, set.Calls("shutdown"))
	})
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := domain.Configuration{DeviceType: "iPhone 15", Runtime: "iOS 17.0"}

	sim, err := f.pool.Allocate(ctx, cfg, domain.Create|domain.Reuse)
	require.NoError(t, err)
	_, err = f.pool.Allocate(ctx, cfg, domain.Reuse)
	require.ErrorIs(t, err, ErrAllocationExhausted)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.pool.metrics.allocations.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.pool.metrics.allocations.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.pool.metrics.allocated))

	require.NoError(t, f.pool.Free(ctx, sim))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.pool.metrics.frees.WithLabelValues("kept")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.pool.metrics.allocated))

	n, err := testutil.GatherAndCount(f.reg, "simpool_allocations_total", "simpool_known_simulators")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestHistoryPersistFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	f := newFixture(t, func(c *Config) { c.HistoryDir = blocker })

	sim, err := f.pool.Allocate(ctx, domain.Configuration{DeviceType: "iPhone 15", Runtime: "iOS 17.0"}, domain.Create|domain.PersistHistory)
	require.NoError(t, err, "history failures never fail allocation")

	sim.Sink().OnProcessLaunched(domain.Process{PID: 1, Name: "MyApp"}, domain.LaunchConfiguration{})
	assert.Equal(t, 2, sim.History().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.pool.metrics.persistFailures))

	_, err = history.Load(f.pool.HistoryPath(sim.UDID()))
	assert.Error(t, err)
}

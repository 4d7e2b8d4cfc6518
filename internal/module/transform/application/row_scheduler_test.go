package application_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
	testutil "github.com/jinford/survey-twin/internal/module/transform/testing"
)

// schedulerProbe はRowFuncの呼び出しを記録します
type schedulerProbe struct {
	gate *testutil.RowGate

	mu       sync.Mutex
	order    []int
	runs     map[int]int
	active   int
	maxSeen  int
	settled  []int
	idleHits atomic.Int32
}

func newSchedulerProbe(gate *testutil.RowGate) *schedulerProbe {
	return &schedulerProbe{gate: gate, runs: make(map[int]int)}
}

func (p *schedulerProbe) run(ctx context.Context, rowIndex int) application.RowOutcome {
	p.mu.Lock()
	p.order = append(p.order, rowIndex)
	p.runs[rowIndex]++
	p.active++
	p.maxSeen = max(p.maxSeen, p.active)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if p.gate != nil {
		if err := p.gate.Wait(ctx, rowIndex); err != nil {
			return application.RowOutcome{Fatal: err}
		}
	}
	return application.RowOutcome{Status: domain.RowStatusCompleted}
}

func (p *schedulerProbe) hooks() application.SchedulerHooks {
	return application.SchedulerHooks{
		OnSettled: func(rowIndex int, _ application.RowOutcome) {
			p.mu.Lock()
			p.settled = append(p.settled, rowIndex)
			p.mu.Unlock()
		},
		OnIdle: func() { p.idleHits.Add(1) },
	}
}

func (p *schedulerProbe) snapshot() (order []int, runs map[int]int, maxSeen int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	runs = make(map[int]int, len(p.runs))
	for k, v := range p.runs {
		runs[k] = v
	}
	return append([]int(nil), p.order...), runs, p.maxSeen
}

func TestRowScheduler_BoundedConcurrency(t *testing.T) {
	// Setup
	probe := newSchedulerProbe(nil)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 3, 50, testLogger())

	// Execute
	sched.Start()
	sched.Wait()

	// Assert
	_, runs, maxSeen := probe.snapshot()
	assert.LessOrEqual(t, maxSeen, 3)
	assert.Len(t, runs, 50)
	for idx, n := range runs {
		assert.Equal(t, 1, n, "row %d dispatched more than once", idx)
	}
	processed, failed := sched.Tally()
	assert.Equal(t, 50, processed)
	assert.Zero(t, failed)
	assert.EqualValues(t, 1, probe.idleHits.Load())
}

func TestRowScheduler_DispatchesInAscendingOrder(t *testing.T) {
	// Setup
	probe := newSchedulerProbe(nil)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 1, 8, testLogger())

	// Execute
	sched.Start()
	sched.Wait()

	// Assert
	order, _, _ := probe.snapshot()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestRowScheduler_SeedSkipsTerminalRows(t *testing.T) {
	// Setup
	probe := newSchedulerProbe(nil)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 1, 6, testLogger())
	sched.Seed(map[int]domain.RowStatus{
		0: domain.RowStatusCompleted,
		1: domain.RowStatusFailed,
		3: domain.RowStatusCompleted,
		9: domain.RowStatusCompleted,
	})

	processed, failed := sched.Tally()
	require.Equal(t, 3, processed, "rows beyond the effective total are not counted")
	require.Equal(t, 1, failed)

	// Execute
	sched.Start()
	sched.Wait()

	// Assert
	order, _, _ := probe.snapshot()
	assert.Equal(t, []int{2, 4, 5}, order)
	processed, failed = sched.Tally()
	assert.Equal(t, 6, processed)
	assert.Equal(t, 1, failed)
}

func TestRowScheduler_HaltStopsNewDispatch(t *testing.T) {
	// Setup
	gate := testutil.NewRowGate()
	probe := newSchedulerProbe(gate)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 2, 10, testLogger())

	sched.Start()
	require.Eventually(t, func() bool { return sched.InFlight() == 2 }, eventuallyWait, eventuallyTick)

	// Execute
	sched.Halt()
	gate.ReleaseAll()
	sched.Wait()

	// Assert
	order, _, _ := probe.snapshot()
	assert.ElementsMatch(t, []int{0, 1}, order)
	processed, _ := sched.Tally()
	assert.Equal(t, 2, processed)
	assert.Zero(t, probe.idleHits.Load())

	// ギャップスキャンで残りを処理する
	sched.Start()
	sched.Wait()
	_, runs, _ := probe.snapshot()
	assert.Len(t, runs, 10)
	for idx, n := range runs {
		assert.Equal(t, 1, n, "row %d dispatched more than once", idx)
	}
}

func TestRowScheduler_DropReportsWaitingRows(t *testing.T) {
	// Setup
	gate := testutil.NewRowGate()
	probe := newSchedulerProbe(gate)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 3, 10, testLogger())
	sched.Seed(map[int]domain.RowStatus{0: domain.RowStatusCompleted, 1: domain.RowStatusCompleted})

	sched.Start()
	require.Eventually(t, func() bool { return sched.InFlight() == 3 }, eventuallyWait, eventuallyTick)

	// Execute
	waiting := sched.Drop()

	// Assert
	assert.Equal(t, 5, waiting)
	gate.ReleaseAll()
	sched.Wait()
	processed, _ := sched.Tally()
	assert.Equal(t, 5, processed)
}

func TestRowScheduler_DispatchRow(t *testing.T) {
	// Setup
	gate := testutil.NewRowGate()
	probe := newSchedulerProbe(gate)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 2, 4, testLogger())
	sched.Seed(map[int]domain.RowStatus{
		0: domain.RowStatusCompleted,
		1: domain.RowStatusFailed,
		2: domain.RowStatusCompleted,
		3: domain.RowStatusCompleted,
	})

	// Execute
	prev, err := sched.DispatchRow(1)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusFailed, prev)
	processed, failed := sched.Tally()
	assert.Equal(t, 3, processed)
	assert.Zero(t, failed)
	assert.True(t, sched.IsInFlight(1))

	_, err = sched.DispatchRow(1)
	assert.ErrorIs(t, err, domain.ErrRowInFlight)
	_, err = sched.DispatchRow(4)
	assert.ErrorIs(t, err, domain.ErrRowOutOfRange)

	gate.ReleaseAll()
	sched.Wait()
	processed, failed = sched.Tally()
	assert.Equal(t, 4, processed)
	assert.Zero(t, failed)
	_, runs, _ := probe.snapshot()
	assert.Equal(t, map[int]int{1: 1}, runs)
}

func TestRowScheduler_DropRestoresQueuedRetry(t *testing.T) {
	// Setup
	gate := testutil.NewRowGate()
	probe := newSchedulerProbe(gate)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 1, 4, testLogger())
	sched.Seed(map[int]domain.RowStatus{0: domain.RowStatusCompleted, 1: domain.RowStatusFailed})
	sched.Start()
	require.Eventually(t, func() bool { return gate.Started()[2] }, eventuallyWait, eventuallyTick)

	prev, err := sched.DispatchRow(1)
	require.NoError(t, err)
	require.Equal(t, domain.RowStatusFailed, prev)

	// Execute
	waiting := sched.Drop()

	// Assert
	assert.Equal(t, 1, waiting)
	processed, failed := sched.Tally()
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, failed)
	assert.False(t, sched.IsInFlight(1))

	gate.ReleaseAll()
	sched.Wait()
	processed, failed = sched.Tally()
	assert.Equal(t, 3, processed)
	assert.Equal(t, 1, failed)
	_, runs, _ := probe.snapshot()
	assert.Equal(t, map[int]int{2: 1}, runs)
}

func TestRowScheduler_FatalRetryOutcome(t *testing.T) {
	tests := []struct {
		name          string
		claimed       bool
		wantProcessed int
	}{
		{name: "stopped before the store was touched keeps the previous result", claimed: false, wantProcessed: 3},
		{name: "stopped after the row was claimed drops the previous result", claimed: true, wantProcessed: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			run := func(ctx context.Context, rowIndex int) application.RowOutcome {
				return application.RowOutcome{Fatal: testutil.ErrDatasetDown, Claimed: tt.claimed}
			}
			sched := application.NewRowScheduler(context.Background(), run, application.SchedulerHooks{}, 2, 3, testLogger())
			sched.Seed(map[int]domain.RowStatus{
				0: domain.RowStatusCompleted,
				1: domain.RowStatusCompleted,
				2: domain.RowStatusCompleted,
			})

			// Execute
			_, err := sched.DispatchRow(1)
			require.NoError(t, err)
			sched.Wait()

			// Assert
			processed, _ := sched.Tally()
			assert.Equal(t, tt.wantProcessed, processed)
			assert.False(t, sched.IsInFlight(1))
		})
	}
}

func TestRowScheduler_AbortDiscardsOutcomes(t *testing.T) {
	// Setup
	gate := testutil.NewRowGate()
	probe := newSchedulerProbe(gate)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 2, 10, testLogger())
	sched.Start()
	require.Eventually(t, func() bool { return sched.InFlight() == 2 }, eventuallyWait, eventuallyTick)

	// Execute
	sched.Abort()

	// Assert
	processed, _ := sched.Tally()
	assert.Zero(t, processed)
	probe.mu.Lock()
	assert.Empty(t, probe.settled)
	probe.mu.Unlock()
	assert.Zero(t, sched.InFlight())
}

func TestRowScheduler_SetEffectiveTotalExtendsRun(t *testing.T) {
	// Setup
	probe := newSchedulerProbe(nil)
	sched := application.NewRowScheduler(context.Background(), probe.run, probe.hooks(), 2, 3, testLogger())
	sched.Start()
	sched.Wait()

	// Execute
	sched.SetEffectiveTotal(6)
	sched.SetConcurrency(4)
	sched.Start()
	sched.Wait()

	// Assert
	processed, _ := sched.Tally()
	assert.Equal(t, 6, processed)
	_, runs, _ := probe.snapshot()
	assert.Len(t, runs, 6)
	assert.EqualValues(t, 2, probe.idleHits.Load())
}

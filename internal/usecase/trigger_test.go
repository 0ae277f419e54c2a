package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
)

type blockingRunner struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	requests []RunRequest
	active   int
	maxSeen  int
	panics   bool
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (r *blockingRunner) Run(_ context.Context, req RunRequest) domain.RunReport {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.active++
	if r.active > r.maxSeen {
		r.maxSeen = r.active
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if r.panics {
		panic("runner exploded")
	}
	r.started <- struct{}{}
	<-r.release
	return domain.RunReport{Cadence: req.Cadence, Trigger: req.Trigger, Status: domain.RunCompleted}
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not start")
	}
}

func TestTriggerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	trigger := NewTrigger(runner, nil, nil, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := trigger.Fire(context.Background(), domain.FrequencyDaily, SourceCron)
		done <- err
	}()
	waitStarted(t, runner)
	assert.True(t, trigger.Running())

	_, err := trigger.Fire(context.Background(), domain.FrequencyDaily, SourceManual)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, trigger.FireAsync(domain.FrequencyDaily, SourceManual), ErrRunInProgress)
	assert.False(t, trigger.RunningCadence(domain.FrequencyWeekly))

	close(runner.release)
	require.NoError(t, <-done)
	assert.False(t, trigger.Running())

	report, err := trigger.Fire(context.Background(), domain.FrequencyWeekly, SourceManual)
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyWeekly, report.Cadence)
	assert.Equal(t, 1, runner.maxSeen)
	assert.Len(t, runner.requests, 2)
}

func TestTriggerRunsCoincidentCadences(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	driver := newFakeDriver()
	trigger := NewTrigger(runner, driver, []Schedule{
		{Name: "daily", Cron: "0 0 8 * * *", Cadence: domain.FrequencyDaily},
		{Name: "weekly", Cron: "0 0 8 * * 1", Cadence: domain.FrequencyWeekly},
	}, logging.Discard())
	require.NoError(t, trigger.Start(context.Background()))

	// Monday 08:00 fires both schedules at once.
	var wg sync.WaitGroup
	for _, name := range []string{"daily", "weekly"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver.fire(name)
		}()
	}
	waitStarted(t, runner)
	waitStarted(t, runner)
	assert.True(t, trigger.RunningCadence(domain.FrequencyDaily))
	assert.True(t, trigger.RunningCadence(domain.FrequencyWeekly))

	close(runner.release)
	wg.Wait()
	require.NoError(t, trigger.Stop(context.Background()))

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 2, runner.maxSeen)
	cadences := []domain.Frequency{runner.requests[0].Cadence, runner.requests[1].Cadence}
	assert.ElementsMatch(t, []domain.Frequency{domain.FrequencyDaily, domain.FrequencyWeekly}, cadences)
	assert.False(t, trigger.Running())
}

func TestTriggerConcurrentFiresRunOnce(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	trigger := NewTrigger(runner, nil, nil, logging.Discard())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trigger.Fire(context.Background(), domain.FrequencyDaily, SourceCron)
			errs <- err
		}()
	}
	waitStarted(t, runner)
	time.Sleep(20 * time.Millisecond)
	close(runner.release)
	wg.Wait()
	close(errs)

	var ok, skipped int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRunInProgress):
			skipped++
		}
	}
	assert.Equal(t, 1, runner.maxSeen)
	assert.Equal(t, 10, ok+skipped)
	assert.GreaterOrEqual(t, ok, 1)
}

func TestTriggerClearsFlagAfterPanic(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	runner.panics = true
	trigger := NewTrigger(runner, nil, nil, logging.Discard())

	_, err := trigger.Fire(context.Background(), domain.FrequencyDaily, SourceManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner exploded")
	assert.False(t, trigger.Running())

	runner.panics = false
	close(runner.release)
	_, err = trigger.Fire(context.Background(), domain.FrequencyDaily, SourceManual)
	require.NoError(t, err)
}

func TestTriggerStartRegistersSchedules(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	close(runner.release)
	driver := newFakeDriver()
	trigger := NewTrigger(runner, driver, []Schedule{
		{Name: "daily", Cron: "0 8 * * *", Cadence: domain.FrequencyDaily},
		{Name: "weekly", Cron: "0 8 * * 1", Cadence: domain.FrequencyWeekly},
	}, logging.Discard())

	require.NoError(t, trigger.Start(context.Background()))
	assert.True(t, driver.started)
	assert.Equal(t, "0 8 * * 1", driver.specs["weekly"])

	driver.fire("weekly")
	require.Len(t, runner.requests, 1)
	assert.Equal(t, RunRequest{Cadence: domain.FrequencyWeekly, Trigger: SourceCron}, runner.requests[0])

	require.NoError(t, trigger.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

func TestTriggerStopWaitsForAsyncRun(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	trigger := NewTrigger(runner, newFakeDriver(), nil, logging.Discard())
	require.NoError(t, trigger.Start(context.Background()))

	require.NoError(t, trigger.FireAsync(domain.FrequencyDaily, SourceManual))
	waitStarted(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, trigger.Stop(ctx), context.DeadlineExceeded)

	close(runner.release)
	require.NoError(t, trigger.Stop(context.Background()))
	assert.False(t, trigger.Running())
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/psantana5/fold-orchestrator/pkg/artifacts"
	"github.com/psantana5/fold-orchestrator/pkg/credibility"
	"github.com/psantana5/fold-orchestrator/pkg/engine"
	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/evaluate"
	"github.com/psantana5/fold-orchestrator/pkg/ipc"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
	"github.com/psantana5/fold-orchestrator/pkg/reward"
	"github.com/psantana5/fold-orchestrator/pkg/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeDirectory answers dispatches through respond
type fakeDirectory struct {
	workers []models.Worker
	respond func(ctx context.Context, w models.Worker) (*models.WorkerResponse, error)
}

func (d *fakeDirectory) ListEligible(ctx context.Context) ([]models.Worker, error) {
	return append([]models.Worker(nil), d.workers...), nil
}

func (d *fakeDirectory) Refresh(ctx context.Context) ([]models.Worker, error) {
	return append([]models.Worker(nil), d.workers...), nil
}

func (d *fakeDirectory) Dispatch(ctx context.Context, w models.Worker, req models.WorkerRequest) (*models.WorkerResponse, error) {
	return d.respond(ctx, w)
}

func roster(ids ...string) []models.Worker {
	out := make([]models.Worker, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Worker{ID: id, Address: "http://" + id, Serving: true})
	}
	return out
}

func energies(values map[string]float64) func(context.Context, models.Worker) (*models.WorkerResponse, error) {
	return func(ctx context.Context, w models.Worker) (*models.WorkerResponse, error) {
		e, ok := values[w.ID]
		if !ok {
			return nil, &errdefs.TransportError{Worker: w.ID, Err: errors.New("connection refused")}
		}
		return &models.WorkerResponse{Worker: w.ID, Energies: []float64{e}}, nil
	}
}

func hang(ctx context.Context, w models.Worker) (*models.WorkerResponse, error) {
	<-ctx.Done()
	return nil, &errdefs.TransportError{Worker: w.ID, Err: ctx.Err()}
}

// fakeEngine prepares every task with a fixed initial energy
type fakeEngine struct {
	initEnergy float64
	fail       map[string]bool
}

func (e *fakeEngine) Setup(ctx context.Context, req engine.SetupRequest) (*engine.SetupResult, error) {
	if e.fail[req.TaskID] {
		return nil, fmt.Errorf("engine rejected %s", req.TaskID)
	}
	return &engine.SetupResult{
		InitEnergy: e.initEnergy,
		Inputs:     map[string][]byte{req.TaskID + ".pdb": []byte("ATOM")},
	}, nil
}

func (e *fakeEngine) Recompute(ctx context.Context, req engine.RecomputeRequest) (*engine.RecomputeResult, error) {
	return nil, errors.New("not used")
}

// echoEvaluator trusts reported energies on audit
type echoEvaluator struct{}

func (echoEvaluator) Parse(job *models.Job, resp *models.WorkerResponse) (*evaluate.Parsed, error) {
	if len(resp.Energies) == 0 {
		return nil, &errdefs.ParseError{Worker: resp.Worker, Reason: "no energies"}
	}
	return &evaluate.Parsed{
		Reported:   resp.Energies[len(resp.Energies)-1],
		Trajectory: resp.Energies,
		Artifacts:  map[string]string{"trajectory": "file:///out/" + resp.Worker},
	}, nil
}

func (echoEvaluator) Audit(ctx context.Context, job *models.Job, parsed *evaluate.Parsed) (*evaluate.Audit, error) {
	return &evaluate.Audit{Checked: []float64{parsed.Reported}, Reason: models.ReasonValid}, nil
}

type fixture struct {
	v          *Validator
	store      *store.MemoryStore
	clock      *fakeClock
	dir        *fakeDirectory
	blobs      *artifacts.FileStore
	evaluators *evaluate.Registry
	root       string
}

func newFixture(t *testing.T, config Config, dir *fakeDirectory, eng engine.Engine) *fixture {
	t.Helper()

	clock := newFakeClock()
	st := store.NewMemoryStore()
	st.SetClock(clock.Now)

	root := t.TempDir()
	blobs, err := artifacts.NewFileStore(filepath.Join(root, "blobs"), "")
	require.NoError(t, err)

	evaluators := evaluate.NewRegistry()
	evaluators.Register(models.TaskTypeSyntheticMD, echoEvaluator{})
	evaluators.Register(models.TaskTypeOrganicMD, echoEvaluator{})

	cred := credibility.NewRegistry(credibility.DefaultConfig())
	logger := logging.NewLogger(logging.ERROR, false)
	pipeline := evaluate.NewPipeline(evaluate.DefaultConfig(), evaluators, cred, func() float64 { return 0 }, logger)
	rewardConfig := reward.DefaultConfig()
	calc := reward.NewCalculator(reward.NewDefaultRegistry(rewardConfig), reward.HistoryPolicy{Threshold: rewardConfig.HistoryThreshold})

	if config.StatePath == "" {
		config.StatePath = filepath.Join(root, "state.json")
	}
	deps := Deps{
		Store:       st,
		Directory:   dir,
		Artifacts:   blobs,
		Pipeline:    pipeline,
		Calculator:  calc,
		Credibility: cred,
		Scores:      reward.NewScores(rewardConfig.Alpha),
		Logger:      logger,
	}
	if eng != nil {
		deps.Engine = eng
	}
	v, err := New(config, deps)
	require.NoError(t, err)
	v.SetClock(clock.Now)

	return &fixture{v: v, store: st, clock: clock, dir: dir, blobs: blobs, evaluators: evaluators, root: root}
}

// insert enqueues an active job that is ready for an update
func (f *fixture) insert(t *testing.T, job *models.Job) *models.Job {
	t.Helper()
	if job.TaskType == "" {
		job.TaskType = models.TaskTypeSyntheticMD
	}
	job.Active = true
	job.Priority = 1
	job.UpdateInterval = time.Minute
	_, err := f.store.Enqueue(context.Background(), job)
	require.NoError(t, err)
	return job
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestCreateJobsFillsQueue(t *testing.T) {
	config := Config{QueueSize: 3, Tasks: []string{"1UBQ", "2abc", "3xyz", "4def", "5ghi"}}
	f := newFixture(t, config, &fakeDirectory{workers: roster("w1")}, &fakeEngine{initEnergy: -1200})
	ctx := context.Background()

	f.v.CreateJobs(ctx)

	active, err := f.store.GetQueue(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 3)

	seen := map[string]bool{}
	for _, job := range active {
		assert.False(t, seen[job.TaskID], "task %s scheduled twice", job.TaskID)
		seen[job.TaskID] = true
		assert.Equal(t, models.TaskTypeSyntheticMD, job.TaskType)
		assert.Equal(t, -1200.0, job.Event.InitEnergy)
		require.Contains(t, job.Event.InputLinks, job.TaskID+".pdb")
		assert.NotEmpty(t, job.Event.Extra[extraInputPrefix])
	}

	// A full queue creates nothing
	f.v.CreateJobs(ctx)
	all, _, err := f.store.SearchJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, f.clock.Now(), f.v.LastCreated())
}

func TestCreateJobsCatalogExhausted(t *testing.T) {
	config := Config{QueueSize: 4, Tasks: []string{"1ubq", "2abc", "1UBQ"}}
	f := newFixture(t, config, &fakeDirectory{workers: roster("w1")}, nil)

	f.v.CreateJobs(context.Background())

	ids, err := f.store.AllTaskIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1ubq", "2abc"}, ids)
}

func TestCreateJobsNeedsEnoughWorkers(t *testing.T) {
	config := Config{QueueSize: 2, SampleSize: 2, Tasks: []string{"1ubq", "2abc"}}
	f := newFixture(t, config, &fakeDirectory{workers: roster("w1", "w2", "w3")}, nil)

	f.v.CreateJobs(context.Background())

	ids, err := f.store.AllTaskIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreateJobsPositiveInitEnergyFails(t *testing.T) {
	config := Config{QueueSize: 1, Tasks: []string{"1ubq"}}
	f := newFixture(t, config, &fakeDirectory{}, &fakeEngine{initEnergy: 12.5})
	ctx := context.Background()

	f.v.CreateJobs(ctx)

	jobs, _, err := f.store.SearchJobs(ctx, store.JobFilter{Status: models.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.False(t, job.Active)
	assert.True(t, job.Failed)
	assert.NotNil(t, job.ComputedRewards)
	assert.Contains(t, job.Event.FailureReason, "initial energy is positive")
}

func TestUpdateJobRecordsCycle(t *testing.T) {
	dir := &fakeDirectory{
		workers: roster("w1", "w2", "w3", "w4"),
		respond: energies(map[string]float64{"w1": -80, "w2": -100, "w3": -90}),
	}
	f := newFixture(t, Config{}, dir, nil)
	job := f.insert(t, &models.Job{TaskID: "1ubq"})
	ctx := context.Background()

	f.clock.Advance(time.Minute)
	f.v.UpdateJob(ctx, job)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)

	assert.True(t, got.Active)
	assert.Equal(t, []string{"w1", "w2", "w3", "w4"}, got.Event.Queried)
	assert.Equal(t, []string{"ok", "ok", "ok", "error"}, got.Event.ResponseStatus)
	assert.Equal(t, []string{"w1", "w2", "w3"}, got.Event.Workers)
	assert.Equal(t, []float64{-80, -100, -90}, got.Event.Energies)
	assert.Len(t, got.Event.Outcomes, 3)

	assert.Equal(t, "w2", got.BestWorker)
	assert.Equal(t, -100.0, got.BestLoss)
	require.Len(t, got.ComputedRewards, len(got.Workers))
	assert.InDelta(t, 0.8, got.ComputedRewards[1], 1e-9)

	require.Len(t, got.History, 1)
	assert.Equal(t, 4, got.History[0].Queried)
	assert.Equal(t, 3, got.History[0].Responded)
	assert.Equal(t, -100.0, got.History[0].BestEnergy)
	assert.Equal(t, 1, got.UpdatedCount)
	assert.Equal(t, f.clock.Now(), got.UpdatedAt)

	// Audited outcomes feed credibility
	rec := f.v.Credibility.Snapshot().Records["w2"][models.TaskTypeSyntheticMD]
	assert.Equal(t, []float64{1}, rec.Samples)
}

func TestUpdateJobAllTimeouts(t *testing.T) {
	dir := &fakeDirectory{workers: roster("w1", "w2"), respond: hang}
	f := newFixture(t, Config{DispatchTimeout: 50 * time.Millisecond}, dir, nil)
	job := f.insert(t, &models.Job{TaskID: "1ubq"})
	ctx := context.Background()

	f.v.UpdateJob(ctx, job)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Empty(t, got.Event.Energies)
	assert.Equal(t, []string{"timeout", "timeout"}, got.Event.ResponseStatus)
	assert.False(t, got.HasBest())
	assert.NotNil(t, got.ComputedRewards)
	assert.Empty(t, got.ComputedRewards)
}

func TestUpdateJobRewardsHistoricalBest(t *testing.T) {
	dir := &fakeDirectory{workers: roster("w1", "w2"), respond: energies(nil)}
	f := newFixture(t, Config{}, dir, nil)
	past := f.clock.Now()
	job := f.insert(t, &models.Job{
		TaskID:     "1ubq",
		BestLoss:   -40,
		BestWorker: "w9",
		BestLossAt: &past,
	})
	ctx := context.Background()

	f.v.UpdateJob(ctx, job)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, -40.0, got.BestLoss)
	assert.Equal(t, "w9", got.BestWorker)
	require.Equal(t, []string{"w9"}, got.Workers)
	require.Len(t, got.ComputedRewards, 1)
	assert.Greater(t, got.ComputedRewards[0], 0.0)
	assert.Equal(t, []string{"w9"}, got.Event.Workers)
	assert.Equal(t, []float64{-40}, got.Event.Energies)
}

func TestUpdateJobHistoricalBestJoinsEvent(t *testing.T) {
	dir := &fakeDirectory{
		workers: roster("w1", "w2"),
		respond: energies(map[string]float64{"w1": 0, "w2": 0}),
	}
	f := newFixture(t, Config{}, dir, nil)
	past := f.clock.Now()
	job := f.insert(t, &models.Job{
		TaskID:     "1ubq",
		BestLoss:   -40,
		BestWorker: "w9",
		BestLossAt: &past,
	})
	ctx := context.Background()

	f.v.UpdateJob(ctx, job)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w9"}, got.Workers)
	assert.Equal(t, got.Workers, got.Event.Workers)
	assert.Equal(t, []float64{0, 0, -40}, got.Event.Energies)
	require.Len(t, got.ComputedRewards, 3)
	assert.Equal(t, 0.0, got.ComputedRewards[0])
	assert.Greater(t, got.ComputedRewards[2], 0.0)
}

func TestUpdateJobFinalizesExpired(t *testing.T) {
	dir := &fakeDirectory{
		workers: roster("w1", "w2"),
		respond: energies(map[string]float64{"w1": -50, "w2": -60}),
	}
	f := newFixture(t, Config{}, dir, nil)
	job := f.insert(t, &models.Job{TaskID: "1ubq", MaxLifetime: time.Hour})
	ctx := context.Background()

	f.clock.Advance(2 * time.Hour)
	f.v.UpdateJob(ctx, job)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.FinalizedAt)
	assert.Equal(t, []string{"w1", "w2"}, got.Workers)
	require.Len(t, got.ComputedRewards, 2)
	assert.Greater(t, got.ComputedRewards[1], got.ComputedRewards[0])
	require.Len(t, got.Event.OutputLinks, 2)
	assert.Equal(t, "w2", got.Event.OutputLinks[0]["worker"])
}

func TestUpdateJobUnknownTaskTypeFails(t *testing.T) {
	dir := &fakeDirectory{workers: roster("w1"), respond: energies(map[string]float64{"w1": -10})}
	f := newFixture(t, Config{}, dir, nil)
	job := f.insert(t, &models.Job{TaskID: "1ubq", TaskType: "Docking"})

	f.v.UpdateJob(context.Background(), job)

	got, err := f.store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.False(t, got.Active)
	assert.NotNil(t, got.ComputedRewards)
}

func TestUpdateJobsOnlyReady(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	dir := &fakeDirectory{
		workers: roster("w1"),
		respond: func(ctx context.Context, w models.Worker) (*models.WorkerResponse, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return &models.WorkerResponse{Energies: []float64{-1}}, nil
		},
	}
	f := newFixture(t, Config{}, dir, nil)
	f.insert(t, &models.Job{TaskID: "1ubq"})

	f.v.UpdateJobs(context.Background())
	assert.Equal(t, 0, calls, "job not yet due")

	f.clock.Advance(time.Minute)
	f.v.UpdateJobs(context.Background())
	assert.Equal(t, 1, calls)

	f.v.UpdateJobs(context.Background())
	assert.Equal(t, 1, calls, "interval restarts after an update")
}

// Every update cycle leaves the job consistent, whatever the workers answer
func TestUpdateJobInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ids := []string{"w1", "w2", "w3", "w4", "w5", "w6"}
		values := map[string]float64{}
		for _, id := range ids {
			switch rapid.IntRange(0, 2).Draw(rt, "kind_"+id) {
			case 0: // unreachable
			case 1:
				values[id] = 0
			default:
				values[id] = -rapid.Float64Range(1, 500).Draw(rt, "energy_"+id)
			}
		}
		dir := &fakeDirectory{workers: roster(ids...), respond: energies(values)}
		f := newFixture(t, Config{}, dir, nil)
		job := f.insert(t, &models.Job{TaskID: "1ubq", MaxLifetime: time.Hour})

		cycles := rapid.IntRange(1, 3).Draw(rt, "cycles")
		expire := rapid.Bool().Draw(rt, "expire")
		ctx := context.Background()
		for i := 0; i < cycles; i++ {
			f.clock.Advance(time.Minute)
			if expire && i == cycles-1 {
				f.clock.Advance(time.Hour)
			}
			current, err := f.store.GetJob(ctx, job.JobID)
			require.NoError(rt, err)
			if !current.Active {
				break
			}
			f.v.UpdateJob(ctx, current)
		}

		got, err := f.store.GetJob(ctx, job.JobID)
		require.NoError(rt, err)
		if !got.Active {
			require.NotNil(rt, got.ComputedRewards)
		}
		require.Len(rt, got.Event.Energies, len(got.Event.Workers))
		require.Len(rt, got.ComputedRewards, len(got.Workers))
		require.Len(rt, got.Event.Workers, len(got.Workers))
		for i, w := range got.Workers {
			require.Equal(rt, w, got.Event.Workers[i])
		}
		require.Len(rt, got.Event.ResponseStatus, len(got.Event.Queried))
		if got.HasBest() {
			require.Less(rt, got.BestLoss, 0.0)
		}
	})
}

func TestApplyRewardsArchives(t *testing.T) {
	config := Config{QueueSize: 1, Tasks: []string{"1ubq"}}
	dir := &fakeDirectory{
		workers: roster("w1", "w2"),
		respond: energies(map[string]float64{"w1": -50, "w2": -60}),
	}
	f := newFixture(t, config, dir, &fakeEngine{initEnergy: -10})
	ctx := context.Background()

	f.v.CreateJobs(ctx)
	jobs, err := f.store.GetQueue(ctx, false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job := jobs[0]
	prefix := job.Event.Extra[extraInputPrefix].(string)
	inputDir := filepath.Join(f.root, "blobs", filepath.FromSlash(prefix))
	require.DirExists(t, inputDir)

	job.MaxLifetime = time.Minute
	f.clock.Advance(2 * time.Minute)
	f.v.UpdateJob(ctx, job)

	f.clock.Advance(time.Second)
	f.v.ApplyRewards(ctx)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.NoDirExists(t, inputDir)
	assert.Greater(t, f.v.Scores.Get("w2"), f.v.Scores.Get("w1"))
	assert.FileExists(t, f.v.config.StatePath)

	// Each finalized job is folded once
	before := f.v.Scores.Get("w2")
	f.v.ApplyRewards(ctx)
	assert.Equal(t, before, f.v.Scores.Get("w2"))
}

// interleavedEvaluator runs during inside every audit, standing in for
// another loop that ticks while a cycle is being evaluated
type interleavedEvaluator struct {
	echoEvaluator
	during func()
}

func (e interleavedEvaluator) Audit(ctx context.Context, job *models.Job, parsed *evaluate.Parsed) (*evaluate.Audit, error) {
	e.during()
	return e.echoEvaluator.Audit(ctx, job, parsed)
}

func TestApplyRewardsDuringSlowAudit(t *testing.T) {
	dir := &fakeDirectory{
		workers: roster("w1", "w2"),
		respond: energies(map[string]float64{"w1": -50, "w2": -60}),
	}
	f := newFixture(t, Config{}, dir, nil)
	job := f.insert(t, &models.Job{TaskID: "1ubq", MaxLifetime: time.Hour})
	ctx := context.Background()

	passes := 0
	f.evaluators.Register(models.TaskTypeSyntheticMD, interleavedEvaluator{during: func() {
		f.clock.Advance(10 * time.Second)
		f.v.ApplyRewards(ctx)
		passes++
	}})

	f.clock.Advance(2 * time.Hour)
	f.v.UpdateJob(ctx, job)
	require.Positive(t, passes)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.False(t, got.Archived)
	require.True(t, got.FinalizedAt.Before(f.clock.Now()), "finalized before the concurrent passes")

	f.clock.Advance(time.Minute)
	f.v.ApplyRewards(ctx)

	got, err = f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Greater(t, f.v.Scores.Get("w2"), 0.0)

	before := f.v.Scores.Get("w2")
	f.v.ApplyRewards(ctx)
	assert.Equal(t, before, f.v.Scores.Get("w2"))
}

func TestApplyRewardsAfterRestart(t *testing.T) {
	dir := &fakeDirectory{
		workers: roster("w1"),
		respond: energies(map[string]float64{"w1": -50}),
	}
	f := newFixture(t, Config{}, dir, nil)
	job := f.insert(t, &models.Job{TaskID: "1ubq", MaxLifetime: time.Hour})
	ctx := context.Background()

	f.clock.Advance(2 * time.Hour)
	f.v.UpdateJob(ctx, job)

	// A fresh validator over the same store picks up the finalized job
	restarted, err := New(Config{}, f.v.Deps)
	require.NoError(t, err)
	restarted.SetClock(f.clock.Now)
	restarted.ApplyRewards(ctx)

	got, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
}

type queuedBatches struct {
	results []ipc.Result
}

func (q *queuedBatches) Poll() (ipc.Result, bool) {
	if len(q.results) == 0 {
		return ipc.Result{}, false
	}
	r := q.results[0]
	q.results = q.results[1:]
	return r, true
}

func TestDrainOrganic(t *testing.T) {
	f := newFixture(t, Config{}, &fakeDirectory{}, &fakeEngine{initEnergy: -5, fail: map[string]bool{"2abc": true}})
	source := &queuedBatches{results: []ipc.Result{
		{Err: &ipc.DecodeError{Err: errors.New("bad frame")}},
		{Batch: &ipc.Batch{Version: ipc.Version, Items: []models.JobRequest{
			{TaskID: " 1UBQ ", Submitter: "lab-7", Source: "rcsb", Priority: 5, UpdateIntervalSeconds: 30},
			{TaskID: "2abc", Submitter: "lab-7"},
		}}},
	}}
	f.v.Organic = source
	ctx := context.Background()

	f.v.DrainOrganic(ctx)

	tasks, err := f.store.TaskIDsBySubmitter(ctx, "lab-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"1ubq", "2abc"}, tasks)

	active, err := f.store.GetQueue(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	job := active[0]
	assert.True(t, job.IsOrganic)
	assert.Equal(t, models.TaskTypeOrganicMD, job.TaskType)
	assert.Equal(t, 5.0, job.Priority)
	assert.Equal(t, 30*time.Second, job.UpdateInterval)
	assert.Equal(t, "rcsb", job.Source)

	failed, _, err := f.store.SearchJobs(ctx, store.JobFilter{Status: models.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "2abc", failed[0].TaskID)

	source.results = []ipc.Result{{Err: ipc.ErrClosed}}
	f.v.DrainOrganic(ctx)
	assert.Nil(t, f.v.Organic)
}

func TestCheckLiveness(t *testing.T) {
	f := newFixture(t, Config{LivenessWindow: 12 * time.Hour}, &fakeDirectory{}, nil)

	f.clock.Advance(11 * time.Hour)
	assert.NoError(t, f.v.CheckLiveness())

	f.clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, f.v.CheckLiveness(), ErrStalled)
}

func TestStateRoundTrip(t *testing.T) {
	f := newFixture(t, Config{}, &fakeDirectory{}, nil)
	f.v.Scores.Update([]string{"w1"}, []float64{1})
	for i := 0; i < 6; i++ {
		f.v.Credibility.RecordOutcome("w1", models.TaskTypeSyntheticMD, true)
	}
	require.NoError(t, f.v.SaveState())

	g := newFixture(t, Config{StatePath: f.v.config.StatePath}, &fakeDirectory{}, nil)
	require.NoError(t, g.v.LoadState())
	assert.Equal(t, f.v.Scores.Get("w1"), g.v.Scores.Get("w1"))
	assert.Equal(t,
		f.v.Credibility.ValidationProbability("w1", models.TaskTypeSyntheticMD),
		g.v.Credibility.ValidationProbability("w1", models.TaskTypeSyntheticMD))
}

func TestLoadStateMissingFile(t *testing.T) {
	f := newFixture(t, Config{StatePath: filepath.Join(t.TempDir(), "absent.json")}, &fakeDirectory{}, nil)
	assert.NoError(t, f.v.LoadState())
}

func TestLoadStateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	f := newFixture(t, Config{StatePath: path}, &fakeDirectory{}, nil)
	assert.Error(t, f.v.LoadState())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, Config{Tasks: []string{"1ubq"}}, &fakeDirectory{workers: roster("w1"), respond: hang}, nil)
	f.v.SetClock(time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.v.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("validator did not stop")
	}
	assert.FileExists(t, f.v.config.StatePath)
}

func TestRunRestartsWhenStalled(t *testing.T) {
	config := Config{
		MonitorInterval: 20 * time.Millisecond,
		LivenessWindow:  10 * time.Millisecond,
	}
	f := newFixture(t, config, &fakeDirectory{}, nil)
	f.v.SetClock(time.Now)

	done := make(chan error, 1)
	go func() { done <- f.v.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStalled)
	case <-time.After(5 * time.Second):
		t.Fatal("liveness monitor did not stop the validator")
	}
}

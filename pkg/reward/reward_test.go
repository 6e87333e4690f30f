package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/fold-orchestrator/pkg/models"
)

func TestRankStrategy(t *testing.T) {
	s := RankStrategy{TopReward: 0.8}

	tests := []struct {
		name     string
		energies []float64
		priority float64
		expected []float64
	}{
		{"All zero", []float64{0, 0, 0}, 1, []float64{0, 0, 0}},
		{"Single valid", []float64{0, -10, 0}, 1, []float64{0, 0.8, 0}},
		{"Best and two others", []float64{-5, -10, -7}, 1, []float64{0.1, 0.8, 0.1}},
		{"Priority scales", []float64{-10, -5}, 2, []float64{1.6, 0.4}},
		{"Empty", []float64{}, 1, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Rewards(tt.energies, tt.priority)
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.InDelta(t, tt.expected[i], got[i], 1e-9, "index %d", i)
			}
		})
	}
}

func newCalculator(threshold float64) *Calculator {
	return NewCalculator(NewDefaultRegistry(DefaultConfig()), HistoryPolicy{Threshold: threshold})
}

func TestComputeAllZeroWithoutHistory(t *testing.T) {
	job := &models.Job{
		TaskType: models.TaskTypeSyntheticMD,
		Priority: 1,
		Workers:  []string{"a", "b"},
		Event:    models.Event{Energies: []float64{0, 0}},
	}

	d, err := newCalculator(0).Compute(job)
	require.NoError(t, err)
	assert.False(t, d.Applied)
	assert.Equal(t, []float64{0, 0}, d.Rewards)
}

func TestComputeHistoricalBest(t *testing.T) {
	job := &models.Job{
		TaskType:   models.TaskTypeSyntheticMD,
		Priority:   1,
		Workers:    []string{"a", "b"},
		Event:      models.Event{Energies: []float64{0, 0}},
		BestLoss:   -40,
		BestWorker: "c",
	}

	d, err := newCalculator(0).Compute(job)
	require.NoError(t, err)
	assert.True(t, d.Applied, "history rule must still run the pipeline")
	assert.True(t, d.FromHistory)
	assert.Equal(t, []string{"a", "b", "c"}, d.Workers)
	assert.InDeltaSlice(t, []float64{0, 0, 0.8}, d.Rewards, 1e-9)

	// the job itself is untouched
	assert.Equal(t, []string{"a", "b"}, job.Workers)
}

func TestComputeHistoricalBestAlreadyAssigned(t *testing.T) {
	job := &models.Job{
		TaskType:   models.TaskTypeOrganicMD,
		Priority:   1,
		Workers:    []string{"a", "b"},
		BestLoss:   -40,
		BestWorker: "b",
	}

	d, err := newCalculator(0).Compute(job)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.Workers)
	assert.InDeltaSlice(t, []float64{0, 0.8}, d.Rewards, 1e-9)
}

func TestHistoryPolicyThreshold(t *testing.T) {
	job := &models.Job{BestLoss: -40, BestWorker: "c"}

	assert.True(t, HistoryPolicy{Threshold: 0}.Allows(job))
	assert.False(t, HistoryPolicy{Threshold: -50}.Allows(job))
	assert.False(t, HistoryPolicy{Threshold: 0}.Allows(&models.Job{}), "no best recorded")
}

func TestComputeUnknownTaskType(t *testing.T) {
	job := &models.Job{TaskType: "Docking", Workers: []string{"a"}, Event: models.Event{Energies: []float64{-1}}}
	_, err := newCalculator(0).Compute(job)
	assert.Error(t, err)
}

func TestScoresEMA(t *testing.T) {
	s := NewScores(0.5)
	s.Update([]string{"a", "b"}, []float64{1, 0})
	assert.InDelta(t, 0.5, s.Get("a"), 1e-12)
	assert.InDelta(t, 0.0, s.Get("b"), 1e-12)

	s.Update([]string{"b"}, []float64{1})
	assert.InDelta(t, 0.25, s.Get("a"), 1e-12, "absent workers decay")
	assert.InDelta(t, 0.5, s.Get("b"), 1e-12)

	s.Halve("b")
	assert.InDelta(t, 0.25, s.Get("b"), 1e-12)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Worker)
}

func TestScoresSnapshotRestore(t *testing.T) {
	s := NewScores(0.1)
	s.Update([]string{"a"}, []float64{1})

	snap := s.Snapshot()
	restored := NewScores(0.1)
	restored.Restore(snap)
	assert.Equal(t, s.Get("a"), restored.Get("a"))

	snap["a"] = 99
	assert.NotEqual(t, 99.0, s.Get("a"))
}

type recordedSample struct {
	worker string
	passed bool
}

type sampleRecorder struct {
	samples []recordedSample
}

func (r *sampleRecorder) RecordOutcome(worker, taskType string, passed bool) {
	r.samples = append(r.samples, recordedSample{worker, passed})
}

func TestApplyCredibility(t *testing.T) {
	scores := NewScores(0.5)
	scores.Restore(map[string]float64{"bad": 0.8})
	rec := &sampleRecorder{}

	outcomes := []models.WorkerOutcome{
		{Worker: "ok", Reason: models.ReasonValid},
		{Worker: "trusted", Reason: models.ReasonSkip},
		{Worker: "far", Reason: models.ReasonTooLargeDifference},
		{Worker: "bad", Reason: models.ReasonIntegrityViolation},
	}
	ApplyCredibility(outcomes, models.TaskTypeSyntheticMD, rec, scores)

	assert.Equal(t, []recordedSample{{"ok", true}, {"far", false}, {"bad", false}}, rec.samples)
	assert.InDelta(t, 0.4, scores.Get("bad"), 1e-12)
}

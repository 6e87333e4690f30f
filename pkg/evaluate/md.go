package evaluate

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/psantana5/fold-orchestrator/pkg/engine"
	"github.com/psantana5/fold-orchestrator/pkg/errdefs"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// BlobGetter fetches stored checkpoints
type BlobGetter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// MDEvaluator evaluates molecular dynamics results. The reported outcome is
// the final energy of the worker's trajectory. Audits verify the declared
// checkpoint signature before asking the engine to recompute from it.
type MDEvaluator struct {
	engine engine.Engine
	blobs  BlobGetter
}

// NewMDEvaluator creates an MD evaluator
func NewMDEvaluator(e engine.Engine, blobs BlobGetter) *MDEvaluator {
	return &MDEvaluator{engine: e, blobs: blobs}
}

// Parse extracts the reported final energy and declared artifacts
func (m *MDEvaluator) Parse(job *models.Job, resp *models.WorkerResponse) (*Parsed, error) {
	if len(resp.Energies) == 0 {
		return nil, &errdefs.ParseError{Worker: resp.Worker, Reason: "empty energy trajectory"}
	}
	for i, e := range resp.Energies {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return nil, &errdefs.ParseError{Worker: resp.Worker, Reason: fmt.Sprintf("non-finite energy at step %d", i)}
		}
	}

	artifacts := copyArtifacts(resp.Artifacts)
	if resp.CheckpointURL != "" {
		if artifacts == nil {
			artifacts = make(map[string]string)
		}
		artifacts["checkpoint"] = resp.CheckpointURL
	}

	return &Parsed{
		Worker:              resp.Worker,
		Reported:            resp.Energies[len(resp.Energies)-1],
		Trajectory:          append([]float64(nil), resp.Energies...),
		CheckpointURL:       resp.CheckpointURL,
		CheckpointSignature: strings.ToLower(resp.CheckpointSignature),
		Seed:                resp.Seed,
		Artifacts:           artifacts,
	}, nil
}

// Audit verifies the checkpoint and recomputes the trajectory
func (m *MDEvaluator) Audit(ctx context.Context, job *models.Job, parsed *Parsed) (*Audit, error) {
	if parsed.CheckpointURL != "" {
		if err := m.verifyCheckpoint(ctx, parsed); err != nil {
			return nil, err
		}
	}

	result, err := m.engine.Recompute(ctx, engine.RecomputeRequest{
		JobID:         job.JobID,
		TaskID:        job.TaskID,
		TaskType:      job.TaskType,
		Worker:        parsed.Worker,
		Seed:          parsed.Seed,
		CheckpointURL: parsed.CheckpointURL,
		Config:        job.Config,
	})
	if err != nil {
		return nil, &errdefs.RecomputeError{Worker: parsed.Worker, TaskID: job.TaskID, Err: err}
	}

	return &Audit{
		Checked:   result.Energies,
		Reason:    models.ReasonValid,
		Artifacts: result.Artifacts,
	}, nil
}

func (m *MDEvaluator) verifyCheckpoint(ctx context.Context, parsed *Parsed) error {
	blob, err := m.blobs.Get(ctx, parsed.CheckpointURL)
	if err != nil {
		return &errdefs.RecomputeError{Worker: parsed.Worker, Err: fmt.Errorf("fetch checkpoint: %w", err)}
	}
	actual := CheckpointSignature(blob)
	if parsed.CheckpointSignature != actual {
		return &errdefs.IntegrityViolation{
			Worker:   parsed.Worker,
			Expected: parsed.CheckpointSignature,
			Actual:   actual,
		}
	}
	return nil
}

// CheckpointSignature returns the hex BLAKE2b-256 digest of a checkpoint
func CheckpointSignature(blob []byte) string {
	sum := blake2b.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// NewDefaultRegistry registers the MD evaluator for the built-in task types
func NewDefaultRegistry(e engine.Engine, blobs BlobGetter) *Registry {
	r := NewRegistry()
	md := NewMDEvaluator(e, blobs)
	r.Register(models.TaskTypeSyntheticMD, md)
	r.Register(models.TaskTypeOrganicMD, md)
	return r
}

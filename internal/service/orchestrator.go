package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"

	"raidwatch/internal/analyzer"
	"raidwatch/internal/apperr"
	"raidwatch/internal/cache"
	"raidwatch/internal/config"
	"raidwatch/internal/domain"
	"raidwatch/internal/queue"
	"raidwatch/internal/report"
)

// Request is the consumer-facing description of one analysis.
type Request struct {
	ReportCodes []string `json:"report_codes"`
	FightFilter string   `json:"fight_filter,omitempty"`
	Fresh       bool     `json:"fresh,omitempty"`

	analyzer.Request
}

// JobHandle is returned when the work could not complete within the fast
// threshold.
type JobHandle struct {
	ID       string      `json:"id"`
	State    queue.State `json:"state"`
	Position *int        `json:"position,omitempty"`
}

// Outcome is exactly one of an inline result or a job handle.
type Outcome struct {
	Result *analyzer.Result `json:"result,omitempty"`
	Job    *JobHandle       `json:"job,omitempty"`
}

// Orchestrator wires the fetcher, snapshot cache, job queue and analyzers
// into the analyze/job_status surface.
type Orchestrator struct {
	cfg     *config.Config
	fetcher report.Fetcher
	cache   *cache.Cache
	queue   *queue.Queue
	logger  zerolog.Logger
}

func New(cfg *config.Config, fetcher report.Fetcher, snapshots *cache.Cache, jobs *queue.Queue, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   snapshots,
		queue:   jobs,
		logger:  logger,
	}
}

// Analyze validates the request, probes the cache synchronously and either
// returns the result inline or admits a job. The caller sees exactly one of
// {Result, JobHandle, error}.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	codes, err := report.SanitizeCodes(req.ReportCodes)
	if err != nil {
		return nil, err
	}
	req.ReportCodes = codes
	if err := req.Request.Normalize(); err != nil {
		return nil, err
	}

	snapKey := o.snapshotKey(req)
	jobKey := o.jobFingerprint(req)

	// Synchronous cache probe: analyzers are cheap folds, so a snapshot hit
	// answers inline without touching the queue.
	if !req.Fresh {
		if snap, ok := o.cache.Peek(snapKey); ok {
			result, err := analyzer.Run(snap, req.Request)
			if err != nil {
				return nil, err
			}
			return &Outcome{Result: result}, nil
		}
	}

	job := o.queue.Submit(jobKey, func(jobCtx context.Context) (any, error) {
		snap, err := o.cache.GetOrFetch(jobCtx, snapKey, req.Fresh, func(fetchCtx context.Context) (*domain.ReportSnapshot, error) {
			return o.fetchAll(fetchCtx, req)
		})
		if err != nil {
			return nil, err
		}
		return analyzer.Run(snap, req.Request)
	})

	if o.queue.WaitInline(job, o.cfg.FastReturnThreshold) {
		result, err := job.Result()
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: result.(*analyzer.Result)}, nil
	}

	status, _ := o.queue.Status(job.ID)
	return &Outcome{Job: &JobHandle{ID: job.ID, State: status.State, Position: status.Position}}, nil
}

// JobStatus reports the state of a previously admitted job.
func (o *Orchestrator) JobStatus(id string) (queue.Status, bool) {
	return o.queue.Status(id)
}

// Cancel requests cancellation of a job.
func (o *Orchestrator) Cancel(id string) bool {
	return o.queue.Cancel(id)
}

// fetchAll materializes and merges the snapshots for every requested code.
// Codes fetch sequentially; paging within one report already saturates the
// per-job in-flight budget.
func (o *Orchestrator) fetchAll(ctx context.Context, req Request) (*domain.ReportSnapshot, error) {
	requests := analyzer.DataRequests(req.Request)
	snaps := make([]*domain.ReportSnapshot, 0, len(req.ReportCodes))
	for _, code := range req.ReportCodes {
		snap, err := o.fetcher.Fetch(ctx, report.FetchParams{
			Code:        code,
			FightFilter: req.FightFilter,
			Requests:    requests,
		})
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return report.Merge(snaps), nil
}

// snapshotKey fingerprints the logical fetch: sorted report codes, fight
// filter and the data type + ability set the analyzer needs.
func (o *Orchestrator) snapshotKey(req Request) string {
	codes := append([]string(nil), req.ReportCodes...)
	sort.Strings(codes)
	return digest(map[string]any{
		"codes":        codes,
		"fight_filter": req.FightFilter,
		"requests":     analyzer.DataRequests(req.Request),
	})
}

// jobFingerprint covers the full normalized parameter set, so two logically
// identical requests carry the same job fingerprint. Each request is still
// admitted as its own job.
func (o *Orchestrator) jobFingerprint(req Request) string {
	codes := append([]string(nil), req.ReportCodes...)
	sort.Strings(codes)
	return digest(map[string]any{
		"codes":        codes,
		"fight_filter": req.FightFilter,
		"analyzer":     req.Request,
	})
}

// digest produces a stable hex key; encoding/json sorts map keys, which
// keeps the serialization canonical.
func digest(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Only unmarshalable types reach here, which would be a programming
		// error in the request structs.
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Validate is the exported request validation used by the HTTP surface
// before admission.
func (r *Request) Validate() error {
	if len(r.ReportCodes) == 0 {
		return apperr.New(apperr.KindBadRequest, "report_codes must not be empty")
	}
	return r.Request.Normalize()
}

// Package pipeline drives one estimate job end to end: claim, ingest
// documents, run the two model stages, price against the catalog, assemble
// the estimate, persist, and hand off for email delivery.
//
// Every step is crash-safe under at-least-once semantics: a job that dies
// mid-flight is reclaimed after the staleness window and re-run from the
// start, and every step tolerates re-execution.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/homeside-repairs/estimate-worker/internal/config"
	"github.com/homeside-repairs/estimate-worker/internal/ingest"
	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/internal/pricing"
	"github.com/homeside-repairs/estimate-worker/internal/store"
	"github.com/homeside-repairs/estimate-worker/pkg/anthropic"
)

// Notifier delivers a completed estimate to the customer and the oversight
// address. Returns the delivery timestamp on success.
type Notifier interface {
	SendEstimate(ctx context.Context, job *model.Job, snap *model.Snapshot) (time.Time, error)
}

// Pipeline processes estimate jobs.
type Pipeline struct {
	store    store.Store
	model    anthropic.Client
	docs     ingest.Extractor
	notifier Notifier
	cfg      *config.Config
}

// New assembles a Pipeline. notifier may be nil, in which case completed
// jobs are persisted without email delivery.
func New(st store.Store, mc anthropic.Client, docs ingest.Extractor, notifier Notifier, cfg *config.Config) *Pipeline {
	return &Pipeline{store: st, model: mc, docs: docs, notifier: notifier, cfg: cfg}
}

// ProcessNext claims and fully processes one job. Returns false when no
// claimable work exists. Job-level failures are recorded on the job and do
// not surface as errors; only infrastructure failures (configuration,
// database) do.
func (p *Pipeline) ProcessNext(ctx context.Context) (bool, error) {
	// Configuration loads fresh per job so an operator snapshot swap takes
	// effect without a restart. A broken configuration aborts before any
	// job is claimed.
	snap, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		return false, err
	}

	job, err := p.store.ClaimNext(ctx, p.cfg.Pipeline.Staleness())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("snapshot_id", snap.ID))
	log.Info("claimed job",
		zap.String("customer", job.CustomerName),
		zap.Int("documents", len(job.DocumentURLs)),
	)

	if err := p.process(ctx, job, snap); err != nil {
		log.Warn("job failed", zap.Error(err))
		if failErr := p.store.FailJob(ctx, job.ID, err.Error(), store.Diagnostics{}); failErr != nil {
			return true, failErr
		}
		return true, nil
	}
	return true, nil
}

// Run processes jobs until the queue is idle or maxJobs have been handled.
// maxJobs <= 0 means no limit.
func (p *Pipeline) Run(ctx context.Context, maxJobs int) (int, error) {
	processed := 0
	for {
		if maxJobs > 0 && processed >= maxJobs {
			return processed, nil
		}
		worked, err := p.ProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !worked {
			return processed, nil
		}
		processed++
	}
}

func (p *Pipeline) process(ctx context.Context, job *model.Job, snap *model.Snapshot) error {
	log := zap.L().With(zap.String("job_id", job.ID))

	docText, err := p.docs.CombinedText(ctx, job.DocumentURLs)
	if err != nil {
		return err
	}

	if err := p.store.MarkAIStarted(ctx, job.ID); err != nil {
		return err
	}

	modelCtx, cancel := context.WithTimeout(ctx, p.cfg.Anthropic.Timeout())
	defer cancel()

	extracted, usage, err := p.runExtract(modelCtx, job, docText)
	if err != nil {
		return err
	}
	usage.LogCost(p.cfg.Anthropic.ExtractModel, "extract")
	log.Info("extracted findings", zap.Int("count", len(extracted.Items)))

	candidates := shortlist(snap, extracted.Items, p.cfg.Pipeline.ShortlistCap)

	mapCtx, cancel := context.WithTimeout(ctx, p.cfg.Anthropic.Timeout())
	defer cancel()

	mapped, mapUsage, err := p.runMap(mapCtx, extracted.Items, candidates, snap.Rules)
	if err != nil {
		return err
	}
	mapUsage.LogCost(p.cfg.Anthropic.MapModel, "map")

	priced := pricing.Price(mapped.LineItems, snap)

	est, assembleDiags := p.assemble(priced, snap)
	est.Summary = mapped.Summary
	est.Assumptions = mapped.Assumptions
	est.Unmapped = append(mapped.Unmapped, est.Unmapped...)

	diags := store.Diagnostics{
		ValidationErrors: append(priced.Diagnostics, assembleDiags...),
		UnmappedItems:    est.Unmapped,
	}
	outcome := store.CompletedJob{
		Estimate:        est,
		ConfigVersionID: snap.ID,
		Diagnostics:     diags,
	}
	if err := p.store.CompleteJob(ctx, job.ID, outcome); err != nil {
		return err
	}
	log.Info("estimate complete",
		zap.String("total", est.Total.StringFixed(2)),
		zap.Int("line_items", len(est.LineItems)),
		zap.Int("unmapped", len(est.Unmapped)),
	)

	job.Estimate = est
	p.deliver(ctx, job, snap)
	return nil
}

// deliver emails the finished estimate. Delivery failure never fails the
// job: the estimate is already persisted, and the recorded email_error
// flags the job for manual follow-up.
func (p *Pipeline) deliver(ctx context.Context, job *model.Job, snap *model.Snapshot) {
	if p.notifier == nil {
		return
	}
	log := zap.L().With(zap.String("job_id", job.ID))

	if snap.Template == nil {
		msg := "active configuration has no email template"
		log.Warn("email skipped", zap.String("reason", msg))
		if err := p.store.RecordEmailError(ctx, job.ID, msg); err != nil {
			log.Error("record email error", zap.Error(err))
		}
		return
	}

	sentAt, err := p.notifier.SendEstimate(ctx, job, snap)
	if err != nil {
		log.Warn("email delivery failed", zap.Error(err))
		if recErr := p.store.RecordEmailError(ctx, job.ID, err.Error()); recErr != nil {
			log.Error("record email error", zap.Error(recErr))
		}
		return
	}
	if err := p.store.RecordEmailSent(ctx, job.ID, sentAt); err != nil {
		log.Error("record email sent", zap.Error(err))
	}
	log.Info("estimate emailed", zap.String("to", job.Email))
}

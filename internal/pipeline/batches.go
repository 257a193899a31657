package pipeline

import (
	"context"
	"fmt"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/llm"
)

// resultHandler consumes the completion content of one successful request.
type resultHandler func(customID, content string) error

func estimateCost(price Price, reqs []batch.Request) float64 {
	var total float64
	for _, r := range reqs {
		total += price.Cost(r.EstimatedTokens)
	}
	return total
}

// runBatches gates reqs on the aggregate budget, then splits them and drives
// each sub-batch through the coordinator in order. Each sub-batch is gated
// and charged before submission. It returns how many results handle
// accepted; deferred requests are added to r.deferred and rep.Deferred.
func (o *Orchestrator) runBatches(ctx context.Context, r *run, rep *StageReport, stage, model string, price Price, reqs []batch.Request, handle resultHandler) (int, error) {
	total := estimateCost(price, reqs)
	if !o.deps.Ledger.CanProcess(total) {
		return 0, fmt.Errorf("%w: %s needs $%.4f, $%.4f left", ErrBudgetExceeded, stage, total, o.deps.Ledger.RemainingBudget())
	}

	log := o.logger.With("stage", stage)
	subBatches := batch.Split(reqs, o.cfg.TokenLimit)
	log.Info("submitting stage", "requests", len(reqs), "sub_batches", len(subBatches), "estimated_cost", total)

	handled := 0
	for _, sb := range subBatches {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		cost := estimateCost(price, sb.Requests)
		if !o.deps.Ledger.CanProcess(cost) {
			return handled, fmt.Errorf("%w: %s sub-batch %d needs $%.4f, $%.4f left", ErrBudgetExceeded, stage, sb.Index, cost, o.deps.Ledger.RemainingBudget())
		}
		if err := o.deps.Ledger.AddCost(cost); err != nil {
			return handled, fmt.Errorf("charging ledger: %w", err)
		}
		r.cost += cost

		out := o.deps.Coordinator.Process(ctx, stage, sb, model)
		if out.State != batch.StateComplete {
			r.deferred += sb.Len()
			rep.Deferred += sb.Len()
			continue
		}

		results, err := batch.ReadResults(out.ResultPath)
		if err != nil {
			log.Warn("reading sub-batch results failed", "sub_batch", sb.Index, "path", out.ResultPath, "error", err)
			continue
		}
		for _, res := range results {
			content, err := llm.CompletionContent(res.Response)
			if err == nil {
				err = handle(res.CustomID, content)
			}
			if err != nil {
				log.Warn("unusable model reply", "custom_id", res.CustomID, "error", err)
				continue
			}
			handled++
		}
	}
	return handled, nil
}

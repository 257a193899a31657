package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/prompt"
	"github.com/kalambet/sift/internal/storage"
)

// filter scores the newly acquired items. With nothing new it is skipped and
// SELECT still scans the results persisted by earlier runs.
func (o *Orchestrator) filter(ctx context.Context, r *run, rep *StageReport) error {
	if len(r.acquired) == 0 {
		rep.Skipped = true
		return nil
	}

	reqs := make([]batch.Request, 0, len(r.acquired))
	for _, it := range r.acquired {
		reqs = append(reqs, o.deps.Prompts.Filter(it, o.cfg.FilterModel))
	}

	n, err := o.runBatches(ctx, r, rep, prompt.StageFilter, o.cfg.FilterModel, o.cfg.FilterPrice, reqs,
		func(id, content string) error {
			s, err := prompt.ParseFilter(content)
			if err != nil {
				return err
			}
			return o.deps.Store.UpdateScores(id, storage.ScoreUpdate{
				Relevance: storage.Float(s.Relevance),
				Emotion:   storage.Float(s.Emotion),
				Pain:      storage.Float(s.Pain),
				Summary:   storage.String(s.Summary),
			})
		})
	rep.Count = n
	return err
}

// selectItems ranks every unprocessed filter result by composite score and
// keeps those above the threshold.
func (o *Orchestrator) selectItems(_ context.Context, r *run, rep *StageReport) error {
	recs, err := o.deps.Store.ListFilterResults(true)
	if err != nil {
		return fmt.Errorf("listing filter results: %w", err)
	}
	if len(recs) == 0 {
		return errNoInput
	}

	type ranked struct {
		id        string
		composite float64
	}
	var picked []ranked
	for _, rec := range recs {
		c := o.cfg.Weights.Composite(*rec.Relevance, *rec.Emotion, *rec.Pain)
		if rec.Composite == nil || *rec.Composite != c {
			if err := o.deps.Store.UpdateScores(rec.ItemID, storage.ScoreUpdate{Composite: storage.Float(c)}); err != nil {
				return fmt.Errorf("saving composite for %s: %w", rec.ItemID, err)
			}
		}
		if c > o.cfg.Threshold && !rec.Processed {
			picked = append(picked, ranked{rec.ItemID, c})
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].composite > picked[j].composite })

	r.selected = r.selected[:0]
	for _, p := range picked {
		r.selected = append(r.selected, p.id)
	}
	rep.Count = len(r.selected)
	o.logger.Info("selected items", "scanned", len(recs), "selected", len(r.selected), "threshold", o.cfg.Threshold)
	if len(r.selected) == 0 {
		return errNoInput
	}
	return nil
}

func (o *Orchestrator) deepInsight(ctx context.Context, r *run, rep *StageReport) error {
	if len(r.selected) == 0 {
		return errNoInput
	}

	open, err := o.deps.Store.GetScores(r.selected, true)
	if err != nil {
		return fmt.Errorf("loading scores: %w", err)
	}
	items, err := o.deps.Store.GetItems(r.selected)
	if err != nil {
		return fmt.Errorf("loading items: %w", err)
	}

	var reqs []batch.Request
	for _, id := range r.selected {
		it, ok := items[id]
		if _, pending := open[id]; !ok || !pending {
			continue
		}
		reqs = append(reqs, o.deps.Prompts.Insight(it, o.cfg.InsightModel))
	}
	if len(reqs) == 0 {
		return errNoInput
	}

	n, err := o.runBatches(ctx, r, rep, prompt.StageInsight, o.cfg.InsightModel, o.cfg.InsightPrice, reqs,
		func(id, content string) error {
			in, err := prompt.ParseInsight(content)
			if err != nil {
				return err
			}
			if err := o.deps.Store.UpdateScores(id, storage.ScoreUpdate{
				Label:         in.LeadType,
				Tags:          in.Tags,
				ROIWeight:     in.ROIWeight,
				PainPoint:     storage.String(in.PainPoint),
				Justification: in.Justification,
				Processed:     storage.Bool(true),
			}); err != nil {
				return err
			}
			r.insighted = append(r.insighted, insight{item: items[id], painPoint: in.PainPoint})
			return nil
		})
	rep.Count = n
	return err
}

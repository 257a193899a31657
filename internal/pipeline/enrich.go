package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/prompt"
	"github.com/kalambet/sift/internal/storage"
)

// clusterKey groups secondary items under their parent document.
func clusterKey(it storage.Item) string {
	if it.Kind == storage.KindSecondary && it.ParentID != "" {
		return it.ParentID
	}
	return it.ID
}

func (o *Orchestrator) cluster(ctx context.Context, r *run, rep *StageReport) error {
	if !o.cfg.ClusterEnabled || len(r.insighted) == 0 {
		return errNoInput
	}

	members := map[string][]insight{}
	for _, in := range r.insighted {
		k := clusterKey(in.item)
		members[k] = append(members[k], in)
	}

	keys := make([]string, 0, len(members))
	for k, m := range members {
		if len(m) >= o.cfg.ClusterMinMembers {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return errNoInput
	}
	sort.Strings(keys)

	reqs := make([]batch.Request, 0, len(keys))
	for _, k := range keys {
		pains := make([]string, 0, len(members[k]))
		for _, m := range members[k] {
			pains = append(pains, m.painPoint)
		}
		reqs = append(reqs, o.deps.Prompts.Cluster(k, pains, o.cfg.ClusterModel))
	}

	_, err := o.runBatches(ctx, r, rep, prompt.StageCluster, o.cfg.ClusterModel, o.cfg.ClusterPrice, reqs,
		func(key, content string) error {
			cs, err := prompt.ParseCluster(content)
			if err != nil {
				return err
			}
			group, ok := members[key]
			if !ok {
				return fmt.Errorf("unknown cluster %q", key)
			}
			for _, m := range group {
				if err := o.deps.Store.UpdateScores(m.item.ID, storage.ScoreUpdate{
					ClusterKey:     storage.String(key),
					ClusterSummary: storage.String(cs.Summary),
				}); err != nil {
					return err
				}
				rep.Count++
			}
			return nil
		})
	return err
}

func (o *Orchestrator) discover(ctx context.Context, r *run, rep *StageReport) error {
	if !o.cfg.DiscoveryEnabled || len(o.cfg.PrimaryGroups) == 0 {
		return errNoInput
	}
	last, err := o.deps.Store.LastDiscoveryAt()
	if err != nil {
		return fmt.Errorf("reading last discovery: %w", err)
	}
	interval := time.Duration(o.cfg.DiscoveryIntervalDays) * 24 * time.Hour
	if !last.IsZero() && o.now().Sub(last) < interval {
		o.logger.Info("discovery not due", "last", last, "interval_days", o.cfg.DiscoveryIntervalDays)
		return errNoInput
	}

	pains, err := o.deps.Store.RecentPainPoints(o.cfg.DiscoveryPainSample)
	if err != nil {
		return fmt.Errorf("loading pain points: %w", err)
	}
	req := o.deps.Prompts.Discovery(o.cfg.PrimaryGroups, pains, o.cfg.DiscoveryLimit, o.cfg.DiscoveryModel)

	primary := make(map[string]bool, len(o.cfg.PrimaryGroups))
	for _, g := range o.cfg.PrimaryGroups {
		primary[strings.ToLower(g)] = true
	}

	_, err = o.runBatches(ctx, r, rep, prompt.StageDiscovery, o.cfg.DiscoveryModel, o.cfg.DiscoveryPrice, []batch.Request{req},
		func(_, content string) error {
			suggestions, err := prompt.ParseDiscovery(content)
			if err != nil {
				return err
			}
			now := o.now().UTC()
			var groups []storage.ExploratoryGroup
			for _, s := range suggestions {
				if primary[strings.ToLower(s.Group)] {
					continue
				}
				groups = append(groups, storage.ExploratoryGroup{
					Name:                s.Group,
					Reason:              s.Reason,
					PainSignalPct:       s.PainSignalPct,
					SolutionRequestsPct: s.SolutionRequestsPct,
					EngagementLevel:     s.EngagementLevel,
					DiscoveredAt:        now,
				})
				if len(groups) == o.cfg.DiscoveryLimit {
					break
				}
			}
			if len(groups) == 0 {
				return fmt.Errorf("no usable suggestions")
			}
			if err := o.deps.Store.ReplaceExploratoryGroups(groups); err != nil {
				return err
			}
			rep.Count = len(groups)
			return nil
		})
	return err
}

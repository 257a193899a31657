package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/sift/internal/storage"
)

func (o *Orchestrator) clean(_ context.Context, _ *run, rep *StageReport) error {
	now := o.now()
	if o.cfg.RetentionDays > 0 {
		res, err := o.deps.Store.PurgeOlderThan(now.AddDate(0, 0, -o.cfg.RetentionDays))
		if err != nil {
			return fmt.Errorf("purging items: %w", err)
		}
		rep.Count += int(res.Items)
		if res.Items > 0 || res.History > 0 {
			o.logger.Info("purged expired items", "items", res.Items, "history", res.History)
		}
	}
	if o.cfg.FileRetentionDays > 0 && o.deps.Files != nil {
		n, err := o.deps.Files.Prune(now.AddDate(0, 0, -o.cfg.FileRetentionDays))
		if err != nil {
			return fmt.Errorf("pruning batch files: %w", err)
		}
		if n > 0 {
			o.logger.Info("pruned batch files", "files", n)
		}
	}
	return nil
}

// groupPlan is the fetch limit for one source group.
type groupPlan struct {
	group     string
	community string
	limit     int
}

// plan splits the daily item cap between primary and exploratory groups.
func (o *Orchestrator) plan() []groupPlan {
	var plans []groupPlan
	capacity := o.cfg.MaxItemsPerDay
	primaryShare := int(float64(capacity) * o.cfg.PrimaryPercentage / 100)

	if n := len(o.cfg.PrimaryGroups); n > 0 {
		per := max(1, primaryShare/n)
		for _, g := range o.cfg.PrimaryGroups {
			plans = append(plans, groupPlan{group: g, community: storage.CommunityPrimary, limit: per})
		}
	}

	rest := capacity - primaryShare
	if rest <= 0 {
		return plans
	}
	explore, err := o.deps.Store.ListExploratoryGroups()
	if err != nil {
		o.logger.Warn("loading exploratory groups failed", "error", err)
		return plans
	}
	primary := make(map[string]bool, len(o.cfg.PrimaryGroups))
	for _, g := range o.cfg.PrimaryGroups {
		primary[strings.ToLower(g)] = true
	}
	var groups []string
	for _, g := range explore {
		if !primary[strings.ToLower(g.Name)] {
			groups = append(groups, g.Name)
		}
	}
	if len(groups) == 0 {
		return plans
	}
	per := max(1, rest/len(groups))
	for _, g := range groups {
		plans = append(plans, groupPlan{group: g, community: storage.CommunityExploratory, limit: per})
	}
	return plans
}

func wellFormed(it storage.Item) bool {
	return it.ID != "" && strings.TrimSpace(it.Title) != "" && strings.TrimSpace(it.Body) != ""
}

func (o *Orchestrator) acquire(ctx context.Context, r *run, rep *StageReport) error {
	plans := o.plan()
	if len(plans) == 0 {
		return errNoInput
	}

	now := o.now().UTC()
	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := o.logger.With("group", p.group, "community", p.community)

		fetched, err := o.deps.Source.Fetch(ctx, p.group, p.limit)
		if err != nil {
			log.Warn("fetching group failed", "error", err)
			continue
		}

		var candidates []storage.Item
		var ids []string
		dropped := 0
		for _, it := range fetched {
			if !wellFormed(it) {
				dropped++
				continue
			}
			candidates = append(candidates, it)
			ids = append(ids, it.ID)
		}
		seen, err := o.deps.Store.SeenIDs(ids)
		if err != nil {
			return fmt.Errorf("checking history: %w", err)
		}

		added := 0
		for _, it := range candidates {
			if seen[it.ID] {
				continue
			}
			it.Title = strings.TrimSpace(it.Title)
			it.Body = strings.TrimSpace(it.Body)
			it.Community = p.community
			it.DiscoveredAt = now
			ok, err := o.deps.Store.SaveItem(it)
			if err != nil {
				return fmt.Errorf("saving item %s: %w", it.ID, err)
			}
			seen[it.ID] = true
			if !ok {
				continue
			}
			r.acquired = append(r.acquired, it)
			added++
		}
		log.Info("group acquired", "fetched", len(fetched), "new", added, "malformed", dropped)
	}

	rep.Count = len(r.acquired)
	return nil
}

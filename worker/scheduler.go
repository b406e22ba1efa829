package worker

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"coldreach/models"
)

// History is the read side of the send log the scheduler consumes.
type History interface {
	HasAnyRecord(email string) bool
	LatestStage(email string) (models.ContactState, bool)
	TodayCounts(now time.Time) models.DailyCounts
	TodayWarmupRecipients(now time.Time) map[string]bool
}

// PlanConfig is the subset of the run configuration the scheduler
// needs. Keeping it detached from the env layer keeps ComputePlan a
// pure function of its arguments.
type PlanConfig struct {
	ColdDailyLimit    int
	WarmupDailyLimit  int
	MaxFollowupStage  int
	FollowupIntervals map[int]time.Duration
	InterleaveRatio   int
	WarmupPool        []string
}

// Scheduler turns the lead set and send history into today's ordered
// send plan.
type Scheduler struct {
	cfg    PlanConfig
	logger *logrus.Entry
}

func NewScheduler(cfg PlanConfig, logger *logrus.Entry) *Scheduler {
	return &Scheduler{cfg: cfg, logger: logger}
}

// followupCandidate is a contact due for its next sequence stage.
type followupCandidate struct {
	lead      models.Lead
	nextStage int
	elapsed   time.Duration
	order     int // position in the lead set, the deterministic tie-break
}

// ComputePlan is deterministic: identical leads, history, now, and
// config always produce the same plan, so runs can be resumed or
// replayed safely. An empty plan is a normal outcome, not an error.
func (s *Scheduler) ComputePlan(leads []models.Lead, history History, now time.Time) []models.PlanItem {
	counts := history.TodayCounts(now)

	// Follow-ups share the cold budget: counting both here means a
	// rerun later the same day can never push outreach past the cap.
	outreachQuota := s.cfg.ColdDailyLimit - counts.Outreach()
	if outreachQuota < 0 {
		outreachQuota = 0
	}
	warmupQuota := s.cfg.WarmupDailyLimit - counts.Warmup
	if warmupQuota < 0 {
		warmupQuota = 0
	}

	outreach := s.planOutreach(leads, history, now, outreachQuota)
	warmups := s.planWarmups(history, now, warmupQuota, outreach)

	plan := interleave(warmups, outreach, s.cfg.InterleaveRatio)

	s.logger.WithFields(logrus.Fields{
		"outreach_quota": outreachQuota,
		"warmup_quota":   warmupQuota,
		"outreach":       len(outreach),
		"warmups":        len(warmups),
		"plan":           len(plan),
	}).Info("Send plan computed")
	return plan
}

// planOutreach fills the outreach quota with new contacts in lead-set
// order, then with follow-up-eligible contacts longest-waiting first.
func (s *Scheduler) planOutreach(leads []models.Lead, history History, now time.Time, quota int) []models.PlanItem {
	var fresh []models.Lead
	var due []followupCandidate
	seen := make(map[string]bool)

	for i, lead := range leads {
		if seen[lead.Email] {
			continue
		}
		seen[lead.Email] = true

		if !history.HasAnyRecord(lead.Email) {
			fresh = append(fresh, lead)
			continue
		}

		state, ok := history.LatestStage(lead.Email)
		if !ok {
			// Only failed attempts on record: the contact was never
			// reached, but it is no longer a first contact either.
			continue
		}
		if state.Stage >= s.cfg.MaxFollowupStage {
			continue
		}
		next := state.Stage + 1
		interval, found := s.cfg.FollowupIntervals[next]
		if !found {
			continue
		}
		elapsed := now.Sub(state.SentAt)
		if elapsed < interval {
			continue
		}
		due = append(due, followupCandidate{lead: lead, nextStage: next, elapsed: elapsed, order: i})
	}

	sort.SliceStable(due, func(a, b int) bool {
		if due[a].elapsed != due[b].elapsed {
			return due[a].elapsed > due[b].elapsed
		}
		return due[a].order < due[b].order
	})

	items := make([]models.PlanItem, 0, quota)
	for _, lead := range fresh {
		if len(items) >= quota {
			break
		}
		items = append(items, models.PlanItem{Lead: lead, Category: models.CategoryCold})
	}
	for _, cand := range due {
		if len(items) >= quota {
			break
		}
		items = append(items, models.PlanItem{Lead: cand.lead, Category: models.CategoryFollowup, Stage: cand.nextStage})
	}
	return items
}

// planWarmups allocates warm-up sends from the pool in pool order, at
// most one per address per day, skipping any recipient already planned
// for outreach this run.
func (s *Scheduler) planWarmups(history History, now time.Time, quota int, outreach []models.PlanItem) []models.PlanItem {
	taken := history.TodayWarmupRecipients(now)
	planned := make(map[string]bool, len(outreach))
	for _, item := range outreach {
		planned[item.Lead.Email] = true
	}

	var items []models.PlanItem
	for _, addr := range s.cfg.WarmupPool {
		if len(items) >= quota {
			break
		}
		addr = models.NormalizeEmail(addr)
		if addr == "" || taken[addr] || planned[addr] {
			continue
		}
		taken[addr] = true
		items = append(items, models.PlanItem{
			Lead:     models.Lead{Email: addr},
			Category: models.CategoryWarmup,
		})
	}
	return items
}

// interleave spreads warm-up traffic through the run: one warm-up item
// leads every group of ratio outreach items. When either stream runs
// out the other is drained in order.
func interleave(warmups, outreach []models.PlanItem, ratio int) []models.PlanItem {
	if ratio < 1 {
		ratio = 1
	}
	plan := make([]models.PlanItem, 0, len(warmups)+len(outreach))
	w, o := 0, 0
	for w < len(warmups) || o < len(outreach) {
		if w < len(warmups) {
			plan = append(plan, warmups[w])
			w++
		}
		for i := 0; i < ratio && o < len(outreach); i++ {
			plan = append(plan, outreach[o])
			o++
		}
	}
	return plan
}

package models

import (
	"strings"
	"time"
)

// Category classifies a send: first-contact outreach, deliverability
// warm-up, or a timed follow-up in the sequence.
type Category string

const (
	CategoryCold     Category = "cold"
	CategoryWarmup   Category = "warmup"
	CategoryFollowup Category = "followup"
)

// Send outcomes as recorded in the log.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Lead represents a single contact loaded from the CSV export.
// Email is the identity key and is stored lowercased.
type Lead struct {
	Email        string
	FirstName    string
	LastName     string
	Organization string
	Title        string
	City         string
	State        string
	Country      string
	Industry     string
	Website      string
}

// NormalizeEmail lowercases and trims an address so log lookups and
// deduplication agree on identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SendRecord is one row of the append-only send log.
type SendRecord struct {
	Timestamp    time.Time
	Email        string
	Subject      string
	Status       string // sent, failed
	Category     Category
	FirstName    string
	LastName     string
	Organization string
	TemplateUsed string
	// Stage is 0 for cold and warmup records, 1..max for follow-ups.
	Stage int
}

// ContactState is the derived follow-up position of one contact: the
// highest stage successfully sent (cold counts as stage 0) and when.
type ContactState struct {
	Stage  int
	SentAt time.Time
}

// PlanItem is one scheduled send in a run's plan.
type PlanItem struct {
	Lead     Lead
	Category Category
	// Stage is set only for follow-up items.
	Stage int
}

// DailyCounts holds today's successful sends split by category,
// recomputed from the log each run.
type DailyCounts struct {
	Cold     int
	Warmup   int
	Followup int
}

// Outreach is the portion of today's sends that consumes the cold-email
// budget. Follow-ups share that budget with first contacts so a rerun
// mid-day can never overshoot the daily cap.
func (d DailyCounts) Outreach() int {
	return d.Cold + d.Followup
}

// RunStats summarizes one run for the final report.
type RunStats struct {
	Planned      int
	ColdSent     int
	WarmupSent   int
	FollowupSent int
	Failed       int
}

// Total returns all successful sends in the run.
func (s RunStats) Total() int {
	return s.ColdSent + s.WarmupSent + s.FollowupSent
}

package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"coldreach/models"
)

// ErrLogCorrupt marks a send log that exists but cannot be parsed.
// Scheduling fails closed on it: proceeding with an empty history would
// re-send to contacted leads and break the daily caps.
var ErrLogCorrupt = errors.New("send log is corrupt")

// ErrLogLocked means another run appears to be in progress.
var ErrLogLocked = errors.New("send log is locked by another run")

var sendLogHeader = []string{
	"timestamp", "email", "subject", "status", "type",
	"first_name", "last_name", "organization", "template_used", "followup_sequence",
}

// SendLog is the append-only CSV history of every send attempt, the
// only persisted state in the system.
type SendLog struct {
	path     string
	lockPath string
	records  []models.SendRecord
}

// OpenSendLog reads the full history into memory and takes the advisory
// lock. A missing log file means a first run and yields an empty
// history; a present but unparsable file yields ErrLogCorrupt.
func OpenSendLog(path string) (*SendLog, error) {
	sl := &SendLog{path: path, lockPath: path + ".lock"}

	if err := sl.acquireLock(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if err := sl.writeHeader(); err != nil {
			sl.Close()
			return nil, err
		}
		return sl, nil
	}
	if err != nil {
		sl.Close()
		return nil, fmt.Errorf("opening send log: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		sl.Close()
		return nil, fmt.Errorf("%w: %v", ErrLogCorrupt, err)
	}
	if len(rows) == 0 {
		// Zero-byte file: treat like a fresh log.
		if err := sl.writeHeader(); err != nil {
			sl.Close()
			return nil, err
		}
		return sl, nil
	}

	for i, row := range rows[1:] {
		record, err := parseRecord(row)
		if err != nil {
			sl.Close()
			return nil, fmt.Errorf("%w: row %d: %v", ErrLogCorrupt, i+2, err)
		}
		sl.records = append(sl.records, record)
	}
	return sl, nil
}

// Close releases the advisory lock.
func (sl *SendLog) Close() {
	os.Remove(sl.lockPath)
}

func (sl *SendLog) acquireLock() error {
	f, err := os.OpenFile(sl.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return fmt.Errorf("%w (%s)", ErrLogLocked, sl.lockPath)
	}
	if err != nil {
		return fmt.Errorf("creating lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f.Close()
}

func (sl *SendLog) writeHeader() error {
	f, err := os.OpenFile(sl.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating send log: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(sendLogHeader); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Append writes one record to disk and to the in-memory view. Called
// exactly once per attempted send outcome, success or failure.
func (sl *SendLog) Append(record models.SendRecord) error {
	f, err := os.OpenFile(sl.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("appending to send log: %w", err)
	}
	defer f.Close()

	stage := ""
	if record.Stage > 0 {
		stage = strconv.Itoa(record.Stage)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{
		record.Timestamp.Format(time.RFC3339),
		record.Email,
		record.Subject,
		record.Status,
		string(record.Category),
		record.FirstName,
		record.LastName,
		record.Organization,
		record.TemplateUsed,
		stage,
	}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	sl.records = append(sl.records, record)
	return nil
}

// Records returns the full history in append order.
func (sl *SendLog) Records() []models.SendRecord {
	return sl.records
}

// LogTotals summarizes the whole history, not just one run.
type LogTotals struct {
	Attempts int
	Sent     int
	Failed   int
}

// SuccessRate is the percentage of attempts that went out, 0 for an
// empty history.
func (t LogTotals) SuccessRate() float64 {
	if t.Attempts == 0 {
		return 0
	}
	return float64(t.Sent) / float64(t.Attempts) * 100
}

// Totals tallies cumulative statistics across the full history.
func (sl *SendLog) Totals() LogTotals {
	var totals LogTotals
	for _, r := range sl.records {
		totals.Attempts++
		if r.Status == models.StatusSent {
			totals.Sent++
		} else {
			totals.Failed++
		}
	}
	return totals
}

// TodayCounts derives the successful send counts for now's calendar
// day, split by category. The day boundary follows now's location so
// both sides of the comparison agree on what "today" is.
func (sl *SendLog) TodayCounts(now time.Time) models.DailyCounts {
	var counts models.DailyCounts
	day := now.Format("2006-01-02")
	loc := now.Location()
	for _, r := range sl.records {
		if r.Status != models.StatusSent || r.Timestamp.In(loc).Format("2006-01-02") != day {
			continue
		}
		switch r.Category {
		case models.CategoryCold:
			counts.Cold++
		case models.CategoryWarmup:
			counts.Warmup++
		case models.CategoryFollowup:
			counts.Followup++
		}
	}
	return counts
}

// LatestStage returns the highest-stage successful outreach send for a
// contact (cold counts as stage 0) and when it happened. ok is false
// for a contact with no successful outreach history.
func (sl *SendLog) LatestStage(email string) (state models.ContactState, ok bool) {
	email = models.NormalizeEmail(email)
	for _, r := range sl.records {
		if r.Status != models.StatusSent || models.NormalizeEmail(r.Email) != email {
			continue
		}
		if r.Category != models.CategoryCold && r.Category != models.CategoryFollowup {
			continue
		}
		if !ok || r.Stage > state.Stage || (r.Stage == state.Stage && r.Timestamp.After(state.SentAt)) {
			state = models.ContactState{Stage: r.Stage, SentAt: r.Timestamp}
			ok = true
		}
	}
	return state, ok
}

// HasAnyRecord reports whether the contact appears anywhere in the
// history, including failed attempts. Used for first-contact dedup.
func (sl *SendLog) HasAnyRecord(email string) bool {
	email = models.NormalizeEmail(email)
	for _, r := range sl.records {
		if models.NormalizeEmail(r.Email) == email {
			return true
		}
	}
	return false
}

// TodayWarmupRecipients lists pool addresses already successfully
// warmed on now's calendar day, enforcing one warm-up per address per
// day. Day boundaries follow now's location, as in TodayCounts.
func (sl *SendLog) TodayWarmupRecipients(now time.Time) map[string]bool {
	recipients := make(map[string]bool)
	day := now.Format("2006-01-02")
	loc := now.Location()
	for _, r := range sl.records {
		if r.Status == models.StatusSent && r.Category == models.CategoryWarmup &&
			r.Timestamp.In(loc).Format("2006-01-02") == day {
			recipients[models.NormalizeEmail(r.Email)] = true
		}
	}
	return recipients
}

func parseRecord(row []string) (models.SendRecord, error) {
	if len(row) != len(sendLogHeader) {
		return models.SendRecord{}, fmt.Errorf("expected %d fields, got %d", len(sendLogHeader), len(row))
	}
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return models.SendRecord{}, fmt.Errorf("bad timestamp %q", row[0])
	}
	status := row[3]
	if status != models.StatusSent && status != models.StatusFailed {
		return models.SendRecord{}, fmt.Errorf("bad status %q", status)
	}
	category := models.Category(row[4])
	switch category {
	case models.CategoryCold, models.CategoryWarmup, models.CategoryFollowup:
	default:
		return models.SendRecord{}, fmt.Errorf("bad category %q", row[4])
	}
	stage := 0
	if row[9] != "" {
		stage, err = strconv.Atoi(row[9])
		if err != nil || stage < 0 {
			return models.SendRecord{}, fmt.Errorf("bad followup_sequence %q", row[9])
		}
	}
	return models.SendRecord{
		Timestamp:    ts,
		Email:        row[1],
		Subject:      row[2],
		Status:       status,
		Category:     category,
		FirstName:    row[5],
		LastName:     row[6],
		Organization: row[7],
		TemplateUsed: row[8],
		Stage:        stage,
	}, nil
}

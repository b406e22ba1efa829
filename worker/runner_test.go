package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldreach/models"
)

// fakeDispatcher fails for the recipients listed in failFor.
type fakeDispatcher struct {
	sent    []string
	failFor map[string]error
}

func (d *fakeDispatcher) Send(to, subject, body string) error {
	d.sent = append(d.sent, to)
	if err, ok := d.failFor[to]; ok {
		return err
	}
	return nil
}

// fakeRenderer produces a predictable subject, erroring for the
// recipients listed in errFor.
type fakeRenderer struct {
	errFor map[string]error
}

func (r *fakeRenderer) Render(item models.PlanItem) (string, string, string, error) {
	if err, ok := r.errFor[item.Lead.Email]; ok {
		return "", "", "", err
	}
	return "Subject for " + item.Lead.Email, "<p>Body</p>", "Template 1", nil
}

// fakeAppender records appends, optionally failing from a given index.
type fakeAppender struct {
	records   []models.SendRecord
	failAfter int // fail once len(records) reaches this; -1 never fails
}

func (a *fakeAppender) Append(record models.SendRecord) error {
	if a.failAfter >= 0 && len(a.records) >= a.failAfter {
		return errors.New("disk full")
	}
	a.records = append(a.records, record)
	return nil
}

type runnerFixture struct {
	runner     *Runner
	dispatcher *fakeDispatcher
	appender   *fakeAppender
	renderer   *fakeRenderer
	paced      *int
}

func newRunnerFixture(t *testing.T) runnerFixture {
	t.Helper()

	dispatcher := &fakeDispatcher{failFor: map[string]error{}}
	renderer := &fakeRenderer{errFor: map[string]error{}}
	appender := &fakeAppender{failAfter: -1}
	paced := 0

	runner := NewRunner(dispatcher, renderer, appender,
		func(models.Category) { paced++ }, testLogger())
	runner.now = func() time.Time {
		return time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC)
	}

	return runnerFixture{
		runner:     runner,
		dispatcher: dispatcher,
		appender:   appender,
		renderer:   renderer,
		paced:      &paced,
	}
}

func coldPlan(emails ...string) []models.PlanItem {
	plan := make([]models.PlanItem, len(emails))
	for i, email := range emails {
		plan[i] = models.PlanItem{Lead: models.Lead{Email: email}, Category: models.CategoryCold}
	}
	return plan
}

func TestExecute_RecordsEveryOutcome(t *testing.T) {
	t.Parallel()

	fx := newRunnerFixture(t)
	plan := coldPlan("a@x.com", "b@x.com", "c@x.com")

	stats, err := fx.runner.Execute(plan)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Planned)
	assert.Equal(t, 3, stats.ColdSent)
	assert.Zero(t, stats.Failed)

	// Exactly one record per attempted send.
	require.Len(t, fx.appender.records, 3)
	for i, record := range fx.appender.records {
		assert.Equal(t, plan[i].Lead.Email, record.Email)
		assert.Equal(t, models.StatusSent, record.Status)
		assert.Equal(t, "Template 1", record.TemplateUsed)
	}
}

func TestExecute_FailedSendDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	fx := newRunnerFixture(t)
	fx.dispatcher.failFor["b@x.com"] = errors.New("550 mailbox unavailable")

	stats, err := fx.runner.Execute(coldPlan("a@x.com", "b@x.com", "c@x.com"))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ColdSent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, fx.dispatcher.sent)

	// The failure is recorded, not swallowed.
	require.Len(t, fx.appender.records, 3)
	assert.Equal(t, models.StatusFailed, fx.appender.records[1].Status)
	assert.Equal(t, models.StatusSent, fx.appender.records[2].Status)
}

func TestExecute_RenderErrorRecordsNothing(t *testing.T) {
	t.Parallel()

	fx := newRunnerFixture(t)
	fx.renderer.errFor["a@x.com"] = errors.New("no follow-up template for stage 9")

	stats, err := fx.runner.Execute(coldPlan("a@x.com", "b@x.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.ColdSent)

	// No send was attempted for the unrenderable item, so no record.
	assert.Equal(t, []string{"b@x.com"}, fx.dispatcher.sent)
	require.Len(t, fx.appender.records, 1)
	assert.Equal(t, "b@x.com", fx.appender.records[0].Email)
}

func TestExecute_AppendErrorAbortsRun(t *testing.T) {
	t.Parallel()

	fx := newRunnerFixture(t)
	fx.appender.failAfter = 1

	stats, err := fx.runner.Execute(coldPlan("a@x.com", "b@x.com", "c@x.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording send outcome")

	// The run stops at the unrecordable item; stats reflect what
	// actually went out.
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, fx.dispatcher.sent)
	assert.Equal(t, 2, stats.ColdSent)
	require.Len(t, fx.appender.records, 1)
}

func TestExecute_PacesBetweenItemsNotAfterLast(t *testing.T) {
	t.Parallel()

	fx := newRunnerFixture(t)
	_, err := fx.runner.Execute(coldPlan("a@x.com", "b@x.com", "c@x.com"))
	require.NoError(t, err)
	assert.Equal(t, 2, *fx.paced)

	single := newRunnerFixture(t)
	_, err = single.runner.Execute(coldPlan("solo@x.com"))
	require.NoError(t, err)
	assert.Zero(t, *single.paced)
}

func TestExecute_CountsByCategory(t *testing.T) {
	t.Parallel()

	fx := newRunnerFixture(t)
	plan := []models.PlanItem{
		{Lead: models.Lead{Email: "w1@pool.test"}, Category: models.CategoryWarmup},
		{Lead: models.Lead{Email: "a@x.com"}, Category: models.CategoryCold},
		{Lead: models.Lead{Email: "b@x.com"}, Category: models.CategoryFollowup, Stage: 2},
	}

	stats, err := fx.runner.Execute(plan)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.WarmupSent)
	assert.Equal(t, 1, stats.ColdSent)
	assert.Equal(t, 1, stats.FollowupSent)
	assert.Equal(t, 3, stats.Total())

	require.Len(t, fx.appender.records, 3)
	assert.Equal(t, 2, fx.appender.records[2].Stage)
}

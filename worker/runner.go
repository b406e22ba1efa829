package worker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"coldreach/models"
	"coldreach/utils"
)

// Dispatcher performs the actual transmission of one planned item. Any
// retry policy lives behind this interface, not in the runner.
type Dispatcher interface {
	Send(to, subject, body string) error
}

// Renderer maps a plan item to a personalized subject and body.
type Renderer interface {
	Render(item models.PlanItem) (subject, body, templateName string, err error)
}

// Appender is the write side of the send log.
type Appender interface {
	Append(record models.SendRecord) error
}

// Runner executes a computed plan serially: render, dispatch, record,
// pace. Item failures are isolated; only a log-write failure aborts the
// run, since history the scheduler cannot trust is worse than a short
// day.
type Runner struct {
	dispatcher Dispatcher
	templates  Renderer
	sendLog    Appender
	pace       func(models.Category)
	now        func() time.Time
	logger     *logrus.Entry
}

func NewRunner(dispatcher Dispatcher, templates Renderer, sendLog Appender, pace func(models.Category), logger *logrus.Entry) *Runner {
	return &Runner{
		dispatcher: dispatcher,
		templates:  templates,
		sendLog:    sendLog,
		pace:       pace,
		now:        time.Now,
		logger:     logger,
	}
}

func (r *Runner) Execute(plan []models.PlanItem) (models.RunStats, error) {
	stats := models.RunStats{Planned: len(plan)}

	for i, item := range plan {
		itemLog := r.logger.WithFields(logrus.Fields{
			"recipient": item.Lead.Email,
			"category":  string(item.Category),
			"progress":  fmt.Sprintf("%d/%d", i+1, len(plan)),
		})

		subject, body, templateName, err := r.templates.Render(item)
		if err != nil {
			// Not a send attempt, so nothing is recorded.
			itemLog.WithError(err).Error("Could not render template")
			stats.Failed++
			continue
		}

		itemLog.WithField("subject", subject).Info("Sending")
		sendErr := r.dispatcher.Send(item.Lead.Email, subject, body)

		status := models.StatusSent
		if sendErr != nil {
			status = models.StatusFailed
			utils.LogError("send_failed", sendErr, map[string]interface{}{
				"recipient": item.Lead.Email,
				"category":  string(item.Category),
				"stage":     item.Stage,
			})
			stats.Failed++
		} else {
			switch item.Category {
			case models.CategoryCold:
				stats.ColdSent++
			case models.CategoryWarmup:
				stats.WarmupSent++
			case models.CategoryFollowup:
				stats.FollowupSent++
			}
		}

		record := models.SendRecord{
			Timestamp:    r.now(),
			Email:        item.Lead.Email,
			Subject:      subject,
			Status:       status,
			Category:     item.Category,
			FirstName:    item.Lead.FirstName,
			LastName:     item.Lead.LastName,
			Organization: item.Lead.Organization,
			TemplateUsed: templateName,
			Stage:        item.Stage,
		}
		if err := r.sendLog.Append(record); err != nil {
			return stats, fmt.Errorf("recording send outcome: %w", err)
		}

		if i < len(plan)-1 {
			r.pace(item.Category)
		}
	}
	return stats, nil
}

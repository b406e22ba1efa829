package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coldreach/config"
	"coldreach/models"
	"coldreach/utils"
	"coldreach/worker"
)

// retrySender layers the bounded-retry policy over the raw dispatcher,
// keeping retries a caller concern as far as the runner can tell.
type retrySender struct {
	mailer *utils.Mailer
}

func (r retrySender) Send(to, subject, body string) error {
	return r.mailer.SendWithRetry(to, subject, body)
}

func main() {
	dryRun := flag.Bool("dry-run", false, "compute and print today's plan without sending")
	flag.Parse()

	logger := logrus.WithField("run_id", uuid.NewString())

	if err := config.LoadConfig(); err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg := config.AppConfig

	flush, err := utils.InitSentry(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize error reporting")
	}
	defer flush()
	logrus.DeferExitHandler(flush)

	sendLog, err := utils.OpenSendLog(cfg.SentLogFile)
	if err != nil {
		if errors.Is(err, utils.ErrLogCorrupt) {
			// Fail closed: an unreadable history could mean duplicate
			// sends and blown quotas if we pretended it was empty.
			utils.LogError("history_corrupt", err, map[string]interface{}{"file": cfg.SentLogFile})
		}
		logger.WithError(err).Fatal("Failed to open send log")
	}
	defer sendLog.Close()
	// Fatal exits skip defers; make sure the advisory lock is released.
	logrus.DeferExitHandler(sendLog.Close)

	loader := utils.NewLeadLoader(cfg.LeadsFile, logger)
	loaded, err := loader.Load()
	if err != nil {
		utils.LogError("lead_import", err, map[string]interface{}{"file": cfg.LeadsFile})
		logger.WithError(err).Fatal("Failed to load leads")
	}
	stats := utils.GetLeadStats(loaded.Leads)
	logger.WithFields(logrus.Fields{
		"leads":         stats.Total,
		"organizations": stats.Organizations,
		"countries":     stats.Countries,
		"with_titles":   stats.WithTitles,
	}).Info("Lead set ready")

	now := time.Now()
	counts := sendLog.TodayCounts(now)
	logger.WithFields(logrus.Fields{
		"cold_sent_today":     counts.Cold,
		"followup_sent_today": counts.Followup,
		"warmup_sent_today":   counts.Warmup,
		"cold_limit":          cfg.ColdDailyLimit,
		"warmup_limit":        cfg.WarmupDailyLimit,
	}).Info("Today's progress")

	scheduler := worker.NewScheduler(worker.PlanConfig{
		ColdDailyLimit:    cfg.ColdDailyLimit,
		WarmupDailyLimit:  cfg.WarmupDailyLimit,
		MaxFollowupStage:  cfg.MaxFollowupStage,
		FollowupIntervals: cfg.FollowupIntervals,
		InterleaveRatio:   cfg.InterleaveRatio,
		WarmupPool:        cfg.WarmupPool,
	}, logger)

	plan := scheduler.ComputePlan(loaded.Leads, sendLog, now)
	if len(plan) == 0 {
		logger.Info("Nothing to send: quotas met or no eligible contacts")
		return
	}

	if *dryRun {
		for i, item := range plan {
			logger.WithFields(logrus.Fields{
				"position":  i + 1,
				"recipient": item.Lead.Email,
				"category":  string(item.Category),
				"stage":     item.Stage,
			}).Info("Planned send")
		}
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	mailer := utils.NewMailer(utils.MailerConfig{
		Host:           cfg.SMTPServer,
		Port:           cfg.SMTPPort,
		Username:       cfg.EmailAddress,
		Password:       cfg.EmailPassword,
		FromEmail:      cfg.EmailAddress,
		FromName:       cfg.FromName,
		ColdDelayMin:   cfg.ColdDelayMin,
		ColdDelayMax:   cfg.ColdDelayMax,
		WarmupDelayMin: cfg.WarmupDelayMin,
		WarmupDelayMax: cfg.WarmupDelayMax,
	}, rng, logger)

	if err := mailer.TestConnection(); err != nil {
		utils.LogError("smtp_connection", err, map[string]interface{}{
			"host": cfg.SMTPServer,
			"port": cfg.SMTPPort,
		})
		logger.WithError(err).Fatal("SMTP connection test failed")
	}
	logger.Info("SMTP connection verified")

	templates := utils.NewTemplateEngine(rng)
	runner := worker.NewRunner(retrySender{mailer}, templates, sendLog, mailer.PacingDelay, logger)

	runStats, err := runner.Execute(plan)
	report(logger, runStats, sendLog.Totals())
	if err != nil {
		logger.WithError(err).Fatal("Run aborted")
	}
}

func report(logger *logrus.Entry, stats models.RunStats, totals utils.LogTotals) {
	logger.WithFields(logrus.Fields{
		"planned":  stats.Planned,
		"cold":     stats.ColdSent,
		"followup": stats.FollowupSent,
		"warmup":   stats.WarmupSent,
		"failed":   stats.Failed,
		"total":    stats.Total(),
	}).Info("Run complete")
	logger.WithFields(logrus.Fields{
		"total_attempts": totals.Attempts,
		"total_sent":     totals.Sent,
		"total_failed":   totals.Failed,
		"success_rate":   fmt.Sprintf("%.1f%%", totals.SuccessRate()),
	}).Info("Cumulative statistics")
	utils.LogEvent("run_complete", map[string]interface{}{
		"planned": stats.Planned,
		"sent":    stats.Total(),
		"failed":  stats.Failed,
	})
}

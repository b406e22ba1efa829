package utils

import (
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"coldreach/models"
)

// Mailer sends personalized HTML emails over SMTP with a plain-text
// alternative part.
type Mailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
	rng       *rand.Rand
	logger    *logrus.Entry

	maxRetries int
	// sleep is swappable so tests don't block on backoff or pacing.
	sleep func(time.Duration)

	coldDelayMin   time.Duration
	coldDelayMax   time.Duration
	warmupDelayMin time.Duration
	warmupDelayMax time.Duration
}

// MailerConfig is the transport and pacing subset of the run config.
type MailerConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	FromEmail      string
	FromName       string
	ColdDelayMin   time.Duration
	ColdDelayMax   time.Duration
	WarmupDelayMin time.Duration
	WarmupDelayMax time.Duration
}

func NewMailer(cfg MailerConfig, rng *rand.Rand, logger *logrus.Entry) *Mailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	// Port 465 is implicit TLS; anything else negotiates STARTTLS.
	dialer.SSL = cfg.Port == 465

	return &Mailer{
		dialer:         dialer,
		fromEmail:      cfg.FromEmail,
		fromName:       cfg.FromName,
		rng:            rng,
		logger:         logger,
		maxRetries:     3,
		sleep:          time.Sleep,
		coldDelayMin:   cfg.ColdDelayMin,
		coldDelayMax:   cfg.ColdDelayMax,
		warmupDelayMin: cfg.WarmupDelayMin,
		warmupDelayMax: cfg.WarmupDelayMax,
	}
}

// TestConnection dials and authenticates without sending anything.
func (m *Mailer) TestConnection() error {
	closer, err := m.dialer.Dial()
	if err != nil {
		return fmt.Errorf("SMTP connection failed: %w", err)
	}
	return closer.Close()
}

// Send transmits one message. The body is HTML; a plain-text
// alternative is derived from it.
func (m *Mailer) Send(to, subject, body string) error {
	from := m.fromEmail
	if m.fromName != "" {
		from = fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", HTMLToText(body))
	msg.AddAlternative("text/html", body)
	msg.SetHeader("X-Mailer", "coldreach/1.0")

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// SendWithRetry layers bounded immediate retries with quadratic backoff
// over Send, giving up early on permanent SMTP errors.
func (m *Mailer) SendWithRetry(to, subject, body string) error {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt*attempt) * time.Second
			m.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff.String(),
			}).Warn("Retrying send")
			m.sleep(backoff)
		}

		lastErr = m.Send(to, subject, body)
		attempts = attempt
		if lastErr == nil {
			return nil
		}
		if !IsTemporaryError(lastErr) {
			break
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// PacingDelay blocks for a random bounded interval between sends,
// purely for deliverability pacing.
func (m *Mailer) PacingDelay(category models.Category) {
	lo, hi := m.coldDelayMin, m.coldDelayMax
	if category == models.CategoryWarmup {
		lo, hi = m.warmupDelayMin, m.warmupDelayMax
	}
	delay := lo
	if hi > lo {
		delay += time.Duration(m.rng.Int63n(int64(hi - lo + 1)))
	}
	m.logger.WithField("delay", delay.Round(time.Second).String()).Debug("Pacing delay")
	m.sleep(delay)
}

// IsTemporaryError reports whether an SMTP failure looks transient
// (worth an immediate retry) rather than permanent.
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	tempMarkers := []string{
		"try again",
		"temporary",
		"timeout",
		"4.",
		"421",
		"450",
		"451",
		"452",
	}
	for _, marker := range tempMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

var (
	tagPattern          = regexp.MustCompile(`<[^>]+>`)
	multiNewlinePattern = regexp.MustCompile(`\n\s*\n\s*\n`)
)

// HTMLToText derives the plain-text alternative from an HTML body.
func HTMLToText(html string) string {
	text := html
	text = strings.ReplaceAll(text, "<p>", "")
	text = strings.ReplaceAll(text, "</p>", "\n\n")
	for _, br := range []string{"<br>", "<br/>", "<br />"} {
		text = strings.ReplaceAll(text, br, "\n")
	}
	text = tagPattern.ReplaceAllString(text, "")
	text = multiNewlinePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

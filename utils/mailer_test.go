package utils

import (
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldreach/models"
)

func newTestMailer(t *testing.T) (*Mailer, *[]time.Duration) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := NewMailer(MailerConfig{
		Host:           "127.0.0.1",
		Port:           1,
		Username:       "sender@example.com",
		Password:       "secret",
		FromEmail:      "sender@example.com",
		FromName:       "Sender",
		ColdDelayMin:   30 * time.Second,
		ColdDelayMax:   120 * time.Second,
		WarmupDelayMin: 60 * time.Second,
		WarmupDelayMax: 180 * time.Second,
	}, rand.New(rand.NewSource(1)), logrus.NewEntry(logger))

	var slept []time.Duration
	m.sleep = func(d time.Duration) { slept = append(slept, d) }
	return m, &slept
}

func TestIsTemporaryError(t *testing.T) {
	t.Parallel()

	temporary := []error{
		errors.New("421 service not available, try again later"),
		errors.New("450 mailbox busy"),
		errors.New("451 local error in processing"),
		errors.New("452 insufficient system storage"),
		errors.New("4.7.0 temporary authentication failure"),
		errors.New("dial tcp: i/o timeout"),
	}
	for _, err := range temporary {
		assert.True(t, IsTemporaryError(err), "expected temporary: %v", err)
	}

	permanent := []error{
		errors.New("550 mailbox unavailable"),
		errors.New("535 authentication credentials invalid"),
		errors.New("connection refused"),
	}
	for _, err := range permanent {
		assert.False(t, IsTemporaryError(err), "expected permanent: %v", err)
	}

	assert.False(t, IsTemporaryError(nil))
}

func TestSendWithRetry_PermanentErrorAbortsEarly(t *testing.T) {
	t.Parallel()

	// Port 1 on loopback refuses immediately; connection refused is
	// classified as permanent, so there must be no backoff sleeps.
	m, slept := newTestMailer(t)
	err := m.SendWithRetry("lead@example.com", "Subject", "<p>Body</p>")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 1 attempts")
	assert.Empty(t, *slept)
}

func TestPacingDelay_StaysWithinBounds(t *testing.T) {
	t.Parallel()

	m, slept := newTestMailer(t)
	for i := 0; i < 25; i++ {
		m.PacingDelay(models.CategoryCold)
	}
	for i := 0; i < 25; i++ {
		m.PacingDelay(models.CategoryWarmup)
	}

	require.Len(t, *slept, 50)
	for _, d := range (*slept)[:25] {
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 120*time.Second)
	}
	for _, d := range (*slept)[25:] {
		assert.GreaterOrEqual(t, d, 60*time.Second)
		assert.LessOrEqual(t, d, 180*time.Second)
	}
}

func TestPacingDelay_EqualBoundsAreFixed(t *testing.T) {
	t.Parallel()

	m, slept := newTestMailer(t)
	m.coldDelayMin = 5 * time.Second
	m.coldDelayMax = 5 * time.Second
	m.PacingDelay(models.CategoryCold)

	require.Len(t, *slept, 1)
	assert.Equal(t, 5*time.Second, (*slept)[0])
}

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	html := `<p>Hi John,</p>

<p>I build <strong>custom tools</strong> for small businesses.</p>

<p>Best regards,<br>
Felix van Dijk</p>`

	text := HTMLToText(html)
	assert.NotContains(t, text, "<")
	assert.Contains(t, text, "Hi John,")
	assert.Contains(t, text, "custom tools")
	assert.Contains(t, text, "Best regards,")
	assert.Contains(t, text, "Felix van Dijk")
	assert.NotContains(t, text, "\n\n\n")
}

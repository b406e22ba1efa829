package utils

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"coldreach/models"
)

// Template is one subject/body pair with merge-field placeholders.
type Template struct {
	Name    string
	Subject string
	Body    string
}

var coldTemplates = []Template{
	{
		Name:    "Template 1",
		Subject: "Quick idea for {{Company Name}}",
		Body: `<p>Hi {{First Name}},</p>

<p>I build custom booking systems, websites, and tools that help small businesses save time and get more clients.</p>

<p>I just finished one for a barber and he's already seeing more bookings through it. I code everything myself, no big agency.</p>

<p>Would you be open to a quick call sometime this week to see what I could build for {{Company Name}}?</p>

<p>Best regards,<br>
Felix van Dijk</p>`,
	},
	{
		Name:    "Template 2",
		Subject: "Helping {{Company Name}} run smoother",
		Body: `<p>Hey {{First Name}},</p>

<p>I'm a freelance developer helping small businesses like yours cut out repetitive tasks with custom software and automation.</p>

<p>Not some big firm. I build everything from scratch based on what you actually need: calendars, booking flows, dashboards.</p>

<p>Would you be open to a 10-minute call to see if there's anything I could simplify for {{Company Name}}?</p>

<p>Best regards,<br>
Felix van Dijk</p>`,
	},
	{
		Name:    "Template 3",
		Subject: "Built one tool, got 10+ new clients",
		Body: `<p>Hi {{First Name}},</p>

<p>I recently built a custom tool for a small local business and they picked up 10+ new clients in their first week just from simplifying their booking process.</p>

<p>I do everything myself: websites, automation tools, custom booking platforms.</p>

<p>If I could help {{Company Name}} do something similar, would you be up for a quick chat this week?</p>

<p>Best regards,<br>
Felix van Dijk</p>`,
	},
}

// One follow-up template per stage, selected deterministically.
var followupTemplates = []Template{
	{
		Name:    "Follow-up 1",
		Subject: "Re: Quick idea for {{Company Name}} (did this get buried?)",
		Body: `<p>Hi {{First Name}},</p>

<p>I sent you a message last week about building custom tools for {{Company Name}}, but I know inboxes can get crazy.</p>

<p>I just helped another business owner automate their client booking process. They went from spending 2 hours a day on scheduling to having it all happen automatically.</p>

<p>If streamlining any part of {{Company Name}}'s operations sounds useful, I'd love to have a quick 10-minute conversation about what's possible.</p>

<p>Best regards,<br>
Felix van Dijk</p>`,
	},
	{
		Name:    "Follow-up 2",
		Subject: "{{Company Name}}: 3 ways I could help",
		Body: `<p>Hi {{First Name}},</p>

<p>I've been thinking about {{Company Name}} and wanted to share 3 specific ways I could help:</p>

<p>1. <strong>Custom booking system</strong> to eliminate back-and-forth emails and missed appointments<br>
2. <strong>Client dashboard</strong> giving customers 24/7 access to their information<br>
3. <strong>Process automation</strong> turning repetitive tasks into automatic workflows</p>

<p>Would any of these be valuable for {{Company Name}}? Happy to jump on a brief call to explore what makes sense.</p>

<p>Best regards,<br>
Felix van Dijk</p>`,
	},
	{
		Name:    "Follow-up 3",
		Subject: "Last email: {{Company Name}} automation opportunity",
		Body: `<p>Hi {{First Name}},</p>

<p>I don't want to keep bothering you, so this will be my last email about helping {{Company Name}} with custom automation.</p>

<p>If you're interested in exploring what's possible, just reply and I'll send over some examples of what I've built for similar businesses.</p>

<p>If not, no worries at all. I completely understand you're busy running {{Company Name}}.</p>

<p>Best regards,<br>
Felix van Dijk</p>`,
	},
}

var warmupSubjects = []string{
	"System Test",
	"Connection Check",
	"Delivery Test",
	"Mail System Verification",
	"SMTP Test Message",
}

const warmupBody = `<p>This is an automated system test email.</p>

<p>This message is sent to verify email delivery and maintain sender reputation.</p>

<p>Please disregard this message.</p>

<p>Best regards,<br>
Email System</p>`

// TemplateEngine maps (category, stage) to a rendered subject/body.
// Selection among multiple candidates is randomized from the injected
// source; a single-candidate slot is deterministic.
type TemplateEngine struct {
	rng *rand.Rand
}

func NewTemplateEngine(rng *rand.Rand) *TemplateEngine {
	return &TemplateEngine{rng: rng}
}

// Render produces the personalized subject and body for one plan item,
// plus the template identifier for the log.
func (te *TemplateEngine) Render(item models.PlanItem) (subject, body, templateName string, err error) {
	var tmpl Template
	switch item.Category {
	case models.CategoryCold:
		tmpl = coldTemplates[te.rng.Intn(len(coldTemplates))]
	case models.CategoryFollowup:
		if item.Stage < 1 || item.Stage > len(followupTemplates) {
			return "", "", "", fmt.Errorf("no follow-up template for stage %d", item.Stage)
		}
		tmpl = followupTemplates[item.Stage-1]
	case models.CategoryWarmup:
		tmpl = Template{
			Name:    "Warmup",
			Subject: warmupSubjects[te.rng.Intn(len(warmupSubjects))],
			Body:    warmupBody,
		}
	default:
		return "", "", "", fmt.Errorf("unknown category %q", item.Category)
	}

	subject = substitute(tmpl.Subject, item.Lead)
	body = substitute(tmpl.Body, item.Lead)
	return subject, body, tmpl.Name, nil
}

// ColdTemplateCount reports how many cold templates are in rotation.
func (te *TemplateEngine) ColdTemplateCount() int {
	return len(coldTemplates)
}

// substitute replaces merge fields with lead attributes. A missing or
// blank attribute renders as an empty string, never a literal token.
func substitute(text string, lead models.Lead) string {
	replacer := strings.NewReplacer(
		"{{First Name}}", lead.FirstName,
		"{{Last Name}}", lead.LastName,
		"{{Company Name}}", lead.Organization,
		"{{Title}}", lead.Title,
		"{{City}}", lead.City,
		"{{State}}", lead.State,
		"{{Country}}", lead.Country,
		"{{industry or location}}", industryOrLocation(lead),
	)
	return replacer.Replace(text)
}

// industryOrLocation prefers the lead's industry, then falls back to a
// city/state/country location string. US addresses omit the country.
func industryOrLocation(lead models.Lead) string {
	if industry := strings.TrimSpace(lead.Industry); industry != "" {
		return strings.ToLower(industry)
	}
	var parts []string
	if lead.City != "" {
		parts = append(parts, lead.City)
	}
	if lead.State != "" {
		parts = append(parts, lead.State)
	}
	if lead.Country != "" && strings.ToUpper(lead.Country) != "US" {
		parts = append(parts, lead.Country)
	}
	return strings.Join(parts, ", ")
}

var placeholderPattern = regexp.MustCompile(`\{\{[^}]+\}\}`)

var knownPlaceholders = map[string]bool{
	"{{First Name}}":           true,
	"{{Last Name}}":            true,
	"{{Company Name}}":         true,
	"{{Title}}":                true,
	"{{City}}":                 true,
	"{{State}}":                true,
	"{{Country}}":              true,
	"{{industry or location}}": true,
}

// ValidateTemplate flags unknown placeholders and unbalanced paragraph
// tags in custom template text.
func ValidateTemplate(text string) []string {
	var issues []string
	for _, placeholder := range placeholderPattern.FindAllString(text, -1) {
		if !knownPlaceholders[placeholder] {
			issues = append(issues, "unknown placeholder: "+placeholder)
		}
	}
	if strings.Count(text, "<p>") != strings.Count(text, "</p>") {
		issues = append(issues, "unmatched <p> tags")
	}
	return issues
}

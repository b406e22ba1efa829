package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"

	"coldreach/models"
)

// Header aliases tolerated across CSV export formats. Keys are
// lowercased header cells, values are canonical field names.
var headerAliases = map[string]string{
	"first name":        "first_name",
	"last name":         "last_name",
	"email":             "email",
	"email address":     "email",
	"company":           "organization",
	"company name":      "organization",
	"organization":      "organization",
	"organization name": "organization",
	"title":             "title",
	"city":              "city",
	"state":             "state",
	"country":           "country",
	"industry":          "industry",
	"website":           "website",
}

// LoadResult reports what the loader kept and what it dropped.
type LoadResult struct {
	Leads      []models.Lead
	Skipped    int // rows dropped for missing/invalid email
	Duplicates int
}

// LeadLoader reads a contacts CSV export into a validated, deduplicated
// lead set, preserving input order.
type LeadLoader struct {
	Path   string
	Logger *logrus.Entry
}

func NewLeadLoader(path string, logger *logrus.Entry) *LeadLoader {
	return &LeadLoader{Path: path, Logger: logger}
}

// Load parses the CSV file. A missing file or a header without an email
// column is a fatal input error; individual bad rows are dropped and
// counted.
func (ll *LeadLoader) Load() (*LoadResult, error) {
	f, err := os.Open(ll.Path)
	if err != nil {
		return nil, fmt.Errorf("leads file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("leads file %s is empty", ll.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading leads header: %w", err)
	}

	columns := mapHeader(header)
	if _, ok := columns["email"]; !ok {
		return nil, fmt.Errorf("leads file %s has no email column (got: %s)",
			ll.Path, strings.Join(header, ", "))
	}

	result := &LoadResult{}
	seen := make(map[string]bool)
	rowNum := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			ll.Logger.WithField("row", rowNum).WithError(err).Warn("Skipping malformed row")
			result.Skipped++
			continue
		}

		lead := buildLead(columns, row)
		if lead.Email == "" || checkmail.ValidateFormat(lead.Email) != nil {
			ll.Logger.WithField("row", rowNum).Warn("Skipping row with missing or invalid email")
			result.Skipped++
			continue
		}
		if seen[lead.Email] {
			result.Duplicates++
			continue
		}
		seen[lead.Email] = true
		result.Leads = append(result.Leads, lead)
	}

	ll.Logger.WithFields(logrus.Fields{
		"loaded":     len(result.Leads),
		"skipped":    result.Skipped,
		"duplicates": result.Duplicates,
	}).Info("Lead set loaded")
	return result, nil
}

// mapHeader resolves canonical field names to column indexes, stripping
// a UTF-8 BOM from the first cell if the export carries one.
func mapHeader(header []string) map[string]int {
	columns := make(map[string]int)
	for i, cell := range header {
		if i == 0 {
			cell = strings.TrimPrefix(cell, "\ufeff")
		}
		name := strings.ToLower(strings.TrimSpace(cell))
		if canonical, ok := headerAliases[name]; ok {
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = i
			}
		}
	}
	return columns
}

func buildLead(columns map[string]int, row []string) models.Lead {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	return models.Lead{
		Email:        models.NormalizeEmail(field("email")),
		FirstName:    field("first_name"),
		LastName:     field("last_name"),
		Organization: field("organization"),
		Title:        field("title"),
		City:         field("city"),
		State:        field("state"),
		Country:      field("country"),
		Industry:     field("industry"),
		Website:      field("website"),
	}
}

// LeadStats summarizes a loaded lead set for the startup report.
type LeadStats struct {
	Total         int
	Organizations int
	Countries     int
	WithTitles    int
}

func GetLeadStats(leads []models.Lead) LeadStats {
	orgs := make(map[string]bool)
	countries := make(map[string]bool)
	stats := LeadStats{Total: len(leads)}
	for _, lead := range leads {
		if lead.Organization != "" {
			orgs[lead.Organization] = true
		}
		if lead.Country != "" {
			countries[lead.Country] = true
		}
		if lead.Title != "" {
			stats.WithTitles++
		}
	}
	stats.Organizations = len(orgs)
	stats.Countries = len(countries)
	return stats
}

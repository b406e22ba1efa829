package utils

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLeadsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestLeadLoader_LoadsValidRowsInOrder(t *testing.T) {
	t.Parallel()

	path := writeLeadsFile(t, `First Name,Last Name,Email,Company,Title,City,State,Country,Website
John,Smith,john.smith@techcorp.com,TechCorp Inc,Software Engineer,San Francisco,CA,USA,https://techcorp.com
Jane,Doe,JANE.DOE@demo.com,Marketing Solutions,Marketing Manager,New York,NY,USA,
`)

	result, err := NewLeadLoader(path, quietLogger()).Load()
	require.NoError(t, err)
	require.Len(t, result.Leads, 2)

	assert.Equal(t, "john.smith@techcorp.com", result.Leads[0].Email)
	assert.Equal(t, "TechCorp Inc", result.Leads[0].Organization)
	assert.Equal(t, "https://techcorp.com", result.Leads[0].Website)
	// Email identity is case-normalized.
	assert.Equal(t, "jane.doe@demo.com", result.Leads[1].Email)
	assert.Zero(t, result.Skipped)
}

func TestLeadLoader_ToleratesHeaderVariantsAndBOM(t *testing.T) {
	t.Parallel()

	path := writeLeadsFile(t, "\ufeffFirst Name,Last Name,Email Address,Organization Name,Title\n"+
		"Ada,Lovelace,ada@analytical.engines,Analytical Engines,Founder\n")

	result, err := NewLeadLoader(path, quietLogger()).Load()
	require.NoError(t, err)
	require.Len(t, result.Leads, 1)
	assert.Equal(t, "ada@analytical.engines", result.Leads[0].Email)
	assert.Equal(t, "Analytical Engines", result.Leads[0].Organization)
}

func TestLeadLoader_DropsAndCountsBadEmails(t *testing.T) {
	t.Parallel()

	path := writeLeadsFile(t, `First Name,Last Name,Email,Company
Good,Lead,good@example.com,Acme
No,Email,,Acme
Bad,Email,not-an-email,Acme
`)

	result, err := NewLeadLoader(path, quietLogger()).Load()
	require.NoError(t, err)
	assert.Len(t, result.Leads, 1)
	assert.Equal(t, 2, result.Skipped)
}

func TestLeadLoader_DeduplicatesByEmailFirstWins(t *testing.T) {
	t.Parallel()

	path := writeLeadsFile(t, `First Name,Email,Company
First,dup@example.com,Original Org
Second,DUP@example.com,Other Org
`)

	result, err := NewLeadLoader(path, quietLogger()).Load()
	require.NoError(t, err)
	require.Len(t, result.Leads, 1)
	assert.Equal(t, "Original Org", result.Leads[0].Organization)
	assert.Equal(t, 1, result.Duplicates)
}

func TestLeadLoader_MissingEmailColumnIsFatal(t *testing.T) {
	t.Parallel()

	path := writeLeadsFile(t, "First Name,Last Name,Company\nJohn,Smith,Acme\n")

	_, err := NewLeadLoader(path, quietLogger()).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email column")
}

func TestLeadLoader_MissingFileIsFatal(t *testing.T) {
	t.Parallel()

	_, err := NewLeadLoader(filepath.Join(t.TempDir(), "nope.csv"), quietLogger()).Load()
	assert.Error(t, err)
}

func TestGetLeadStats(t *testing.T) {
	t.Parallel()

	path := writeLeadsFile(t, `First Name,Email,Company,Title,Country
A,a@x.com,Acme,CEO,UK
B,b@x.com,Acme,,UK
C,c@x.com,Globex,CTO,France
`)
	result, err := NewLeadLoader(path, quietLogger()).Load()
	require.NoError(t, err)

	stats := GetLeadStats(result.Leads)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Organizations)
	assert.Equal(t, 2, stats.Countries)
	assert.Equal(t, 2, stats.WithTitles)
}

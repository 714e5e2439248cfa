package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"soctriage/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const findingsJSON = `[
  {
    "id": "gd-001",
    "type": "CryptoCurrency:EC2/BitcoinTool.B!DNS",
    "title": "EC2 instance querying a Bitcoin-related domain",
    "severity": 7.2,
    "fields": {"RemoteIP": "185.220.101.32"},
    "timestamp": "2026-10-16T09:00:00Z"
  },
  {
    "id": "gd-002",
    "type": "Recon:EC2/PortProbeUnprotectedPort",
    "severity": 4.1,
    "fields": {"RemoteIP": "198.51.100.100"}
  }
]`

const findingsYAML = `
findings:
  - id: gd-001
    type: "CryptoCurrency:EC2/BitcoinTool.B!DNS"
    title: EC2 instance querying a Bitcoin-related domain
    severity: 7.2
    fields:
      RemoteIP: 185.220.101.32
      Ports: [443, 8333]
    timestamp: "2026-10-16T09:00:00Z"
`

func TestLoadFindings_JSONList(t *testing.T) {
	findings, err := LoadFindings(strings.NewReader(findingsJSON), FormatAuto)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "gd-001", findings[0].ID)
	assert.Equal(t, 7.2, findings[0].Severity)
	assert.Equal(t, "185.220.101.32", findings[0].Fields["RemoteIP"])
	assert.Equal(t, time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC), findings[0].Timestamp.UTC())
	assert.True(t, findings[1].Timestamp.IsZero())
}

func TestLoadFindings_YAMLDocument(t *testing.T) {
	findings, err := LoadFindings(strings.NewReader(findingsYAML), FormatYAML)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	assert.Equal(t, "CryptoCurrency:EC2/BitcoinTool.B!DNS", findings[0].Type)
	assert.Equal(t, "185.220.101.32", findings[0].Fields["RemoteIP"])
	assert.Len(t, findings[0].Fields["Ports"], 2)
	assert.False(t, findings[0].Timestamp.IsZero())
}

func TestLoadFindings_SniffsYAML(t *testing.T) {
	findings, err := LoadFindings(strings.NewReader(findingsYAML), FormatAuto)
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestLoadFindings_EmptyList(t *testing.T) {
	findings, err := LoadFindings(strings.NewReader("[]"), FormatAuto)
	require.NoError(t, err)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestLoadFindings_OutOfRangeSeverityIsNotFatal(t *testing.T) {
	findings, err := LoadFindings(strings.NewReader(`[{"id": "a", "type": "Recon", "severity": 14}]`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 14.0, findings[0].Severity)
}

func TestLoadFindings_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "   "},
		{"null", "null"},
		{"scalar", `"findings"`},
		{"truncated json", `[{"id": "a"`},
		{"severity as string", `[{"id": "a", "type": "Recon", "severity": "high"}]`},
		{"fields as list", `[{"id": "a", "type": "Recon", "severity": 1, "fields": ["x"]}]`},
		{"bad timestamp", `[{"id": "a", "type": "Recon", "severity": 1, "timestamp": "yesterday"}]`},
		{"object without findings", `{"items": []}`},
		{"bad yaml", "findings:\n  - id: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFindings(strings.NewReader(tt.input), FormatAuto)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestLoadFindings_TooLarge(t *testing.T) {
	big := strings.NewReader("[" + strings.Repeat(" ", maxInputSize) + "]")
	_, err := LoadFindings(big, FormatJSON)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestLoadFindingsFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "findings.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(findingsJSON), 0o600))
	findings, err := LoadFindingsFile(jsonPath, nil)
	require.NoError(t, err)
	assert.Len(t, findings, 2)

	yamlPath := filepath.Join(dir, "findings.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(findingsYAML), 0o600))
	findings, err = LoadFindingsFile(yamlPath, nil)
	require.NoError(t, err)
	assert.Len(t, findings, 1)

	findings, err = LoadFindingsFile("-", strings.NewReader(findingsJSON))
	require.NoError(t, err)
	assert.Len(t, findings, 2)

	_, err = LoadFindingsFile(filepath.Join(dir, "absent.json"), nil)
	assert.Error(t, err)
}

func TestFilterSince(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	findings := []core.Finding{
		{ID: "recent", Timestamp: now.Add(-time.Hour)},
		{ID: "old", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "undated"},
	}

	kept, dropped := FilterSince(findings, 24*time.Hour, now)
	assert.Equal(t, 1, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "recent", kept[0].ID)
	assert.Equal(t, "undated", kept[1].ID)

	kept, dropped = FilterSince(findings, 0, now)
	assert.Equal(t, 0, dropped)
	assert.Len(t, kept, 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

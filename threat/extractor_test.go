package threat

import (
	"testing"

	"soctriage/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	return NewExtractor(nil, zaptest.NewLogger(t).Sugar())
}

func TestExtract_SchemaByCategory(t *testing.T) {
	e := newTestExtractor(t)
	f := &core.Finding{
		ID:       "demo-001",
		Type:     "CryptoCurrency:EC2/BitcoinTool.B!DNS",
		Severity: 7.2,
		Fields: map[string]interface{}{
			"RemoteIP": "185.220.101.32",
			"Domain":   "Pool.Miner.Example.COM.",
			"Note":     "10.0.0.1", // not in schema
		},
	}

	x, err := e.Extract(f)
	require.NoError(t, err)
	require.Len(t, x.Indicators, 2)
	assert.Empty(t, x.Warnings)

	// schema fields are visited in sorted order
	assert.Equal(t, core.Indicator{Kind: core.IndicatorDomain, Value: "pool.miner.example.com", FindingID: "demo-001", Field: "Domain"}, x.Indicators[0])
	assert.Equal(t, core.Indicator{Kind: core.IndicatorIP, Value: "185.220.101.32", FindingID: "demo-001", Field: "RemoteIP"}, x.Indicators[1])
}

func TestExtract_SchemaLookupOrder(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	e := NewExtractor(map[string]FieldSchema{
		"Recon:EC2":                          {"Probe": core.IndicatorIP},
		"Recon:EC2/PortProbeUnprotectedPort": {"Exact": core.IndicatorIP},
	}, logger)

	fields := map[string]interface{}{
		"RemoteIP": "198.51.100.1",
		"Probe":    "198.51.100.2",
		"Exact":    "198.51.100.3",
	}

	x, err := e.Extract(&core.Finding{ID: "a", Type: "Recon:EC2/PortProbeUnprotectedPort", Fields: fields})
	require.NoError(t, err)
	require.Len(t, x.Indicators, 1)
	assert.Equal(t, "198.51.100.3", x.Indicators[0].Value)

	x, err = e.Extract(&core.Finding{ID: "b", Type: "Recon:EC2/Portscan", Fields: fields})
	require.NoError(t, err)
	require.Len(t, x.Indicators, 1)
	assert.Equal(t, "198.51.100.2", x.Indicators[0].Value)

	x, err = e.Extract(&core.Finding{ID: "c", Type: "Recon:IAMUser/NetworkPermissions", Fields: fields})
	require.NoError(t, err)
	require.Len(t, x.Indicators, 1)
	assert.Equal(t, "198.51.100.1", x.Indicators[0].Value)
}

func TestExtract_MalformedSchemaFieldWarns(t *testing.T) {
	obsCore, logs := observer.New(zap.WarnLevel)
	e := NewExtractor(nil, zap.New(obsCore).Sugar())

	f := &core.Finding{
		ID:   "f-1",
		Type: "Trojan:EC2/DNSDataExfiltration",
		Fields: map[string]interface{}{
			"RemoteIP":   "999.1.1.1",
			"Domain":     "evil.example.org",
			"FileSha256": 12345,
		},
	}

	x, err := e.Extract(f)
	require.NoError(t, err)
	require.Len(t, x.Indicators, 1)
	assert.Equal(t, "evil.example.org", x.Indicators[0].Value)

	require.Len(t, x.Warnings, 2)
	assert.Equal(t, "FileSha256", x.Warnings[0].Field)
	assert.Equal(t, "RemoteIP", x.Warnings[1].Field)
	assert.Equal(t, "999.1.1.1", x.Warnings[1].Value)
	assert.Contains(t, x.Warnings[1].String(), "not a valid ip")

	assert.Equal(t, 2, logs.FilterMessage("Skipping malformed indicator field").Len())
}

func TestExtract_GenericScan(t *testing.T) {
	e := newTestExtractor(t)
	f := &core.Finding{
		ID:   "g-1",
		Type: "Policy:S3/BucketBlockPublicAccessDisabled",
		Fields: map[string]interface{}{
			"z_addr":      "2001:DB8::1",
			"a_sample":    "D41D8CD98F00B204E9800998ECF8427E",
			"m_host":      "c2.example.net",
			"description": "free text that is not an indicator",
			"count":       42,
			"enabled":     true,
			"peers":       []interface{}{"203.0.113.9", "not-an-ip", "203.0.113.9"},
		},
	}

	x, err := e.Extract(f)
	require.NoError(t, err)
	assert.Empty(t, x.Warnings)

	var got []string
	for _, ind := range x.Indicators {
		got = append(got, ind.Key())
	}
	assert.Equal(t, []string{
		"hash:d41d8cd98f00b204e9800998ecf8427e",
		"domain:c2.example.net",
		"ip:203.0.113.9",
		"ip:2001:db8::1",
	}, got)
}

func TestExtract_Deduplicates(t *testing.T) {
	e := newTestExtractor(t)
	f := &core.Finding{
		ID:   "d-1",
		Type: "UnauthorizedAPICall:IAM/ConsoleLogin",
		Fields: map[string]interface{}{
			"RemoteIP": "203.0.113.42",
			"CallerIP": "::ffff:203.0.113.42",
		},
	}

	x, err := e.Extract(f)
	require.NoError(t, err)
	require.Len(t, x.Indicators, 1)
	assert.Equal(t, "CallerIP", x.Indicators[0].Field)
}

func TestExtract_NoIndicators(t *testing.T) {
	e := newTestExtractor(t)

	x, err := e.Extract(&core.Finding{ID: "n-1", Type: "Recon:EC2/PortProbeUnprotectedPort"})
	require.NoError(t, err)
	assert.Empty(t, x.Indicators)
	assert.Empty(t, x.Warnings)

	x, err = e.Extract(&core.Finding{ID: "n-2", Type: "Unknown", Fields: map[string]interface{}{"msg": "hello"}})
	require.NoError(t, err)
	assert.Empty(t, x.Indicators)
}

func TestExtract_UnusableFinding(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(nil)
	assert.ErrorIs(t, err, ErrUnusableFinding)

	_, err = e.Extract(&core.Finding{Type: "Recon"})
	assert.ErrorIs(t, err, ErrUnusableFinding)
}

func TestNormalizeIndicator(t *testing.T) {
	tests := []struct {
		kind  core.IndicatorKind
		raw   string
		want  string
		valid bool
	}{
		{core.IndicatorIP, " 185.220.101.32 ", "185.220.101.32", true},
		{core.IndicatorIP, "2001:0db8::0001", "2001:db8::1", true},
		{core.IndicatorIP, "fe80::1%eth0", "", false},
		{core.IndicatorIP, "1.2.3", "", false},
		{core.IndicatorIP, "", "", false},
		{core.IndicatorFileHash, "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709", "da39a3ee5e6b4b0d3255bfef95601890afd80709", true},
		{core.IndicatorFileHash, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},
		{core.IndicatorFileHash, "abc123", "", false},
		{core.IndicatorFileHash, "zz1d8cd98f00b204e9800998ecf8427e", "", false},
		{core.IndicatorDomain, "Example.COM.", "example.com", true},
		{core.IndicatorDomain, "localhost", "", false},
		{core.IndicatorDomain, "bad_label.example.com", "", false},
		{core.IndicatorDomain, "example.123", "", false},
		{core.IndicatorDomain, "-lead.example.com", "", false},
		{core.IndicatorKind("url"), "http://example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.raw, func(t *testing.T) {
			got, ok := NormalizeIndicator(tt.kind, tt.raw)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

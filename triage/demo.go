package triage

import (
	"time"

	"soctriage/core"
)

// DemoFindings returns the canned findings used by the demo command, stamped at now.
// With the demo reputation table they cover all three verdicts.
func DemoFindings(now time.Time) []core.Finding {
	return []core.Finding{
		{
			ID:        "demo-001",
			Type:      "CryptoCurrency:EC2/BitcoinTool.B!DNS",
			Title:     "EC2 instance querying a Bitcoin-related domain",
			Severity:  7.2,
			Fields:    map[string]interface{}{"RemoteIP": "185.220.101.32"},
			Timestamp: now,
		},
		{
			ID:        "demo-002",
			Type:      "UnauthorizedAPICall:IAM/ConsoleLogin",
			Title:     "Unusual console login",
			Severity:  5.8,
			Fields:    map[string]interface{}{"RemoteIP": "203.0.113.42"},
			Timestamp: now,
		},
		{
			ID:        "demo-003",
			Type:      "Recon:EC2/PortProbeUnprotectedPort",
			Title:     "Unprotected port being probed",
			Severity:  4.1,
			Fields:    map[string]interface{}{"RemoteIP": "198.51.100.100"},
			Timestamp: now,
		},
	}
}

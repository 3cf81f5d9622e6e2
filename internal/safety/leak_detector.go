// Package safety guards report and attestation output files against
// accidentally embedding key material, per spec.md §6's keypair-file
// handling note and SPEC_FULL.md's secret-leak guard on report/attestation
// writes.
package safety

import (
	"regexp"
)

// LeakWarning describes a detected secret leak in output about to be
// written to disk or stdout.
type LeakWarning struct {
	Pattern string
	Sample  string // first few chars of the match for logging (redacted)
}

// LeakDetector scans strings for leaked key material before a report or
// attestation document is written.
type LeakDetector struct{}

// NewLeakDetector creates a new LeakDetector.
func NewLeakDetector() *LeakDetector {
	return &LeakDetector{}
}

var leakPatterns = []struct {
	re   *regexp.Regexp
	desc string
}{
	{
		// A keypair file is a JSON array of 64 small integers (the raw
		// Ed25519 secret key bytes), spec.md §6. Three or more consecutive
		// comma-separated small integers inside brackets is the signature
		// of that array leaking into a text field.
		re:   regexp.MustCompile(`\[\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*\d{1,3}`),
		desc: "raw keypair byte array",
	},
	{
		re:   regexp.MustCompile(`-----BEGIN\s+(RSA\s+|ED25519\s+)?PRIVATE\s+KEY-----`),
		desc: "PEM private key",
	},
	{
		re:   regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`),
		desc: "password",
	},
	{
		re:   regexp.MustCompile(`(?i)(api[_-]?key|apikey|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
		desc: "API key",
	},
}

// Scan checks output text for leaked secrets before a write to disk.
// Returns a list of warnings without modifying the input.
func (d *LeakDetector) Scan(output string) []LeakWarning {
	if output == "" {
		return nil
	}

	var warnings []LeakWarning
	for _, pat := range leakPatterns {
		matches := pat.re.FindAllString(output, 3) // limit to 3 matches per pattern
		for _, match := range matches {
			sample := match
			if len(sample) > 20 {
				sample = sample[:17] + "..."
			}
			warnings = append(warnings, LeakWarning{
				Pattern: pat.desc,
				Sample:  sample,
			})
		}
	}
	return warnings
}

package cmd

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"soctriage/core"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// maxInputSize bounds how much of a findings file is read
const maxInputSize = 10 * 1024 * 1024

//go:embed findings_schema.json
var findingsSchema []byte

var findingsSchemaLoader = gojsonschema.NewBytesLoader(findingsSchema)

// ErrMalformedInput is returned when a findings document cannot be used at all
var ErrMalformedInput = errors.New("malformed findings input")

// Input formats
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// findingsDocument is the object form of a findings file
type findingsDocument struct {
	Findings []core.Finding `json:"findings"`
}

// LoadFindingsFile reads findings from path, or from stdin when path is "-"
func LoadFindingsFile(path string, stdin io.Reader) ([]core.Finding, error) {
	if path == "-" {
		return LoadFindings(stdin, FormatAuto)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open findings file: %w", err)
	}
	defer f.Close()

	return LoadFindings(f, formatFromPath(path))
}

// LoadFindings decodes a JSON or YAML findings document: either a list of
// findings or an object with a "findings" list. The document is checked
// against the findings JSON schema before decoding.
func LoadFindings(r io.Reader, format string) ([]core.Finding, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("%w: input exceeds %d bytes", ErrMalformedInput, maxInputSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: input is empty", ErrMalformedInput)
	}

	if format == FormatAuto {
		format = sniffFormat(data)
	}
	if format == FormatYAML {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	}

	result, err := gojsonschema.Validate(findingsSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedInput, strings.Join(msgs, "; "))
	}

	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '{' {
		var doc findingsDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		if doc.Findings == nil {
			doc.Findings = []core.Finding{}
		}
		return doc.Findings, nil
	}

	findings := []core.Finding{}
	if err := json.Unmarshal(trimmed, &findings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return findings, nil
}

// FilterSince drops findings detected more than window before now. Findings
// without a timestamp are kept. A zero window keeps everything.
func FilterSince(findings []core.Finding, window time.Duration, now time.Time) (kept []core.Finding, dropped int) {
	if window <= 0 {
		return findings, 0
	}
	cutoff := now.Add(-window)
	kept = make([]core.Finding, 0, len(findings))
	for _, f := range findings {
		if !f.Timestamp.IsZero() && f.Timestamp.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	return kept, dropped
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// sniffFormat treats anything that is not valid JSON as YAML
func sniffFormat(data []byte) string {
	if json.Valid(data) {
		return FormatJSON
	}
	return FormatYAML
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one schema
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return out, nil
}

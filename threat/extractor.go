package threat

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strings"

	"soctriage/core"
	"soctriage/metrics"

	"go.uber.org/zap"
)

// ErrUnusableFinding is returned when a finding cannot be scanned at all
var ErrUnusableFinding = errors.New("finding cannot be scanned for indicators")

var (
	hashPattern  = regexp.MustCompile(`^[0-9a-f]+$`)
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	tldPattern   = regexp.MustCompile(`^[a-z]{2,63}$`)
)

const maxDomainLength = 253

// FieldSchema maps finding field names to the indicator kind they carry
type FieldSchema map[string]core.IndicatorKind

// DefaultSchemas returns the built-in schemas keyed by finding category.
// Keys may also be "Category:Resource" or a full finding type.
func DefaultSchemas() map[string]FieldSchema {
	return map[string]FieldSchema{
		"CryptoCurrency": {"RemoteIP": core.IndicatorIP, "Domain": core.IndicatorDomain},
		"Backdoor":       {"RemoteIP": core.IndicatorIP, "Domain": core.IndicatorDomain},
		"Trojan": {
			"RemoteIP":   core.IndicatorIP,
			"Domain":     core.IndicatorDomain,
			"FileSha256": core.IndicatorFileHash,
		},
		"Recon":               {"RemoteIP": core.IndicatorIP},
		"UnauthorizedAccess":  {"RemoteIP": core.IndicatorIP, "Domain": core.IndicatorDomain},
		"UnauthorizedAPICall": {"RemoteIP": core.IndicatorIP, "CallerIP": core.IndicatorIP},
		"Execution": {
			"FileSha256": core.IndicatorFileHash,
			"FileMd5":    core.IndicatorFileHash,
			"Domain":     core.IndicatorDomain,
		},
		"Impact":       {"RemoteIP": core.IndicatorIP, "Domain": core.IndicatorDomain},
		"Exfiltration": {"RemoteIP": core.IndicatorIP, "Domain": core.IndicatorDomain},
	}
}

// Warning records a named field that did not validate as its declared kind
type Warning struct {
	FindingID string             `json:"finding_id"`
	Field     string             `json:"field"`
	Kind      core.IndicatorKind `json:"kind"`
	Value     string             `json:"value"`
}

func (w Warning) String() string {
	return fmt.Sprintf("field %s: %q is not a valid %s", w.Field, w.Value, w.Kind)
}

// Extraction is the indicator set of one finding plus any warnings
type Extraction struct {
	Indicators []core.Indicator
	Warnings   []Warning
}

// Extractor pulls indicators of compromise out of finding fields.
// It is stateless after construction and safe for concurrent use.
type Extractor struct {
	schemas map[string]FieldSchema
	logger  *zap.SugaredLogger
}

// NewExtractor creates an extractor with the built-in schemas; extra entries
// add to or replace built-in ones with the same key
func NewExtractor(extra map[string]FieldSchema, logger *zap.SugaredLogger) *Extractor {
	schemas := DefaultSchemas()
	for key, schema := range extra {
		schemas[key] = schema
	}
	return &Extractor{
		schemas: schemas,
		logger:  logger,
	}
}

// Extract returns the deduplicated indicators of a finding in discovery order.
// A finding without indicators yields an empty extraction and no error.
func (e *Extractor) Extract(f *core.Finding) (Extraction, error) {
	if f == nil || f.ID == "" {
		return Extraction{}, fmt.Errorf("%w: missing finding id", ErrUnusableFinding)
	}

	x := &extraction{findingID: f.ID, seen: make(map[string]struct{})}

	if schema, ok := e.schemaFor(f); ok {
		for _, field := range sortedFields(schema) {
			raw, present := f.Fields[field]
			if !present || raw == nil {
				continue
			}
			kind := schema[field]
			values, ok := fieldStrings(raw)
			if !ok {
				x.warn(field, kind, fmt.Sprint(raw))
				continue
			}
			for _, v := range values {
				if norm, valid := NormalizeIndicator(kind, v); valid {
					x.add(kind, norm, field)
				} else {
					x.warn(field, kind, v)
				}
			}
		}
	} else {
		for _, field := range sortedKeys(f.Fields) {
			values, ok := fieldStrings(f.Fields[field])
			if !ok {
				continue
			}
			for _, v := range values {
				if kind, norm, found := classify(v); found {
					x.add(kind, norm, field)
				}
			}
		}
	}

	for _, w := range x.result.Warnings {
		metrics.ExtractionWarnings.WithLabelValues(string(w.Kind)).Inc()
		e.logger.Warnw("Skipping malformed indicator field",
			"finding_id", w.FindingID,
			"field", w.Field,
			"kind", w.Kind,
			"value", w.Value)
	}
	e.logger.Debugw("Extracted indicators",
		"finding_id", f.ID,
		"type", f.Type,
		"indicators", len(x.result.Indicators))

	return x.result, nil
}

// schemaFor resolves the most specific schema: exact type, Category:Resource, Category
func (e *Extractor) schemaFor(f *core.Finding) (FieldSchema, bool) {
	for _, key := range []string{f.Type, f.ResourceType(), f.Category()} {
		if schema, ok := e.schemas[key]; ok {
			return schema, true
		}
	}
	return nil, false
}

type extraction struct {
	findingID string
	seen      map[string]struct{}
	result    Extraction
}

func (x *extraction) add(kind core.IndicatorKind, value, field string) {
	key := core.IndicatorKey(kind, value)
	if _, dup := x.seen[key]; dup {
		return
	}
	x.seen[key] = struct{}{}
	x.result.Indicators = append(x.result.Indicators, core.Indicator{
		Kind:      kind,
		Value:     value,
		FindingID: x.findingID,
		Field:     field,
	})
}

func (x *extraction) warn(field string, kind core.IndicatorKind, value string) {
	x.result.Warnings = append(x.result.Warnings, Warning{
		FindingID: x.findingID,
		Field:     field,
		Kind:      kind,
		Value:     value,
	})
}

// classify tests a free-form value as IP, then hash, then domain
func classify(v string) (core.IndicatorKind, string, bool) {
	for _, kind := range []core.IndicatorKind{core.IndicatorIP, core.IndicatorFileHash, core.IndicatorDomain} {
		if norm, ok := NormalizeIndicator(kind, v); ok {
			return kind, norm, true
		}
	}
	return "", "", false
}

// NormalizeIndicator validates a raw value as the given kind and returns its canonical form
func NormalizeIndicator(kind core.IndicatorKind, raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", false
	}

	switch kind {
	case core.IndicatorIP:
		addr, err := netip.ParseAddr(v)
		if err != nil || addr.Zone() != "" {
			return "", false
		}
		return addr.Unmap().String(), true

	case core.IndicatorFileHash:
		v = strings.ToLower(v)
		switch len(v) {
		case 32, 40, 64:
		default:
			return "", false
		}
		if !hashPattern.MatchString(v) {
			return "", false
		}
		return v, true

	case core.IndicatorDomain:
		v = strings.TrimSuffix(strings.ToLower(v), ".")
		if len(v) == 0 || len(v) > maxDomainLength {
			return "", false
		}
		labels := strings.Split(v, ".")
		if len(labels) < 2 {
			return "", false
		}
		for _, label := range labels {
			if !labelPattern.MatchString(label) {
				return "", false
			}
		}
		if !tldPattern.MatchString(labels[len(labels)-1]) {
			return "", false
		}
		return v, true
	}
	return "", false
}

// fieldStrings returns the string values carried by a field. Scalars other
// than strings and lists holding non-strings report ok=false.
func fieldStrings(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case string:
		return []string{v}, true
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedFields(schema FieldSchema) []string {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

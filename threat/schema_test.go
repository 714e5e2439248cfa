package threat

import (
	"os"
	"path/filepath"
	"testing"

	"soctriage/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseSchemas(t *testing.T) {
	doc := `
schemas:
  "Policy:IAMUser":
    AccessKeyIP: ip
    CallerDomain: domain
  Discovery:
    ObjectHash: hash
`
	schemas, err := ParseSchemas([]byte(doc))
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.Equal(t, core.IndicatorIP, schemas["Policy:IAMUser"]["AccessKeyIP"])
	assert.Equal(t, core.IndicatorDomain, schemas["Policy:IAMUser"]["CallerDomain"])
	assert.Equal(t, core.IndicatorFileHash, schemas["Discovery"]["ObjectHash"])
}

func TestParseSchemas_UnknownKind(t *testing.T) {
	_, err := ParseSchemas([]byte("schemas:\n  Recon:\n    RemoteIP: url\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"url"`)
}

func TestParseSchemas_Malformed(t *testing.T) {
	_, err := ParseSchemas([]byte("schemas: [1, 2"))
	assert.Error(t, err)
}

func TestLoadSchemas_ExtendsExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schemas:\n  Policy:\n    AccessKeyIP: ip\n"), 0o600))

	schemas, err := LoadSchemas(path)
	require.NoError(t, err)

	e := NewExtractor(schemas, zaptest.NewLogger(t).Sugar())
	x, err := e.Extract(&core.Finding{
		ID:       "f-1",
		Type:     "Policy:IAMUser/RootCredentialUsage",
		Severity: 5,
		Fields:   map[string]interface{}{"AccessKeyIP": "198.51.100.7"},
	})
	require.NoError(t, err)
	require.Len(t, x.Indicators, 1)
	assert.Equal(t, "198.51.100.7", x.Indicators[0].Value)
	assert.Equal(t, "AccessKeyIP", x.Indicators[0].Field)
}

func TestLoadSchemas_MissingFile(t *testing.T) {
	_, err := LoadSchemas(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

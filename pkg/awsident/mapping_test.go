package awsident

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/store"
)

const mappingYAML = `
mappings:
  - arn_pattern: "arn:aws:sts::111111111111:assumed-role/Deployer/ci"
    email: ci@example.com
  - arn_pattern: "arn:aws:sts::111111111111:assumed-role/AWSReservedSSO_Ops*/*"
    email: ops@example.com
extract_email_from_session_name: true
`

func writeMappingFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iam-mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestFileMappings_Lookup(t *testing.T) {
	m, err := NewFileMappings(writeMappingFile(t, mappingYAML), testLogger())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()

	email, ok, err := m.LookupEmail(ctx, "arn:aws:sts::111111111111:assumed-role/Deployer/ci")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ci@example.com", email)

	// Glob pattern.
	email, ok, err = m.LookupEmail(ctx, "arn:aws:sts::111111111111:assumed-role/AWSReservedSSO_Ops_abc123/whoever")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ops@example.com", email)

	// No match.
	_, ok, err = m.LookupEmail(ctx, "arn:aws:sts::222222222222:assumed-role/Other/x")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, m.SessionNameExtractionEnabled())
}

func TestFileMappings_Reload(t *testing.T) {
	path := writeMappingFile(t, mappingYAML)
	m, err := NewFileMappings(path, testLogger())
	require.NoError(t, err)
	defer m.Close()

	updated := `
mappings:
  - arn_pattern: "arn:aws:sts::111111111111:assumed-role/Deployer/ci"
    email: deploys@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		email, ok, err := m.LookupEmail(context.Background(), "arn:aws:sts::111111111111:assumed-role/Deployer/ci")
		return err == nil && ok && email == "deploys@example.com"
	}, 3*time.Second, 20*time.Millisecond, "reload should pick up the new email")

	assert.False(t, m.SessionNameExtractionEnabled())
}

func TestFileMappings_BadReloadKeepsPrevious(t *testing.T) {
	path := writeMappingFile(t, mappingYAML)
	m, err := NewFileMappings(path, testLogger())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte("mappings: [{arn_pattern: ''}]"), 0o600))

	// Give the watcher a moment; the broken file must not wipe mappings.
	time.Sleep(200 * time.Millisecond)
	email, ok, err := m.LookupEmail(context.Background(), "arn:aws:sts::111111111111:assumed-role/Deployer/ci")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ci@example.com", email)
}

func TestFileMappings_InitialLoadFails(t *testing.T) {
	_, err := NewFileMappings(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.Error(t, err)
}

func TestStoreMappings(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	m := NewStoreMappings(st)
	arn := "arn:aws:iam::111111111111:user/deploy-bot"
	require.NoError(t, m.PutMapping(ctx, arn, "bot@example.com", 0))

	email, ok, err := m.LookupEmail(ctx, arn)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bot@example.com", email)

	_, ok, err = m.LookupEmail(ctx, "arn:aws:iam::111111111111:user/unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

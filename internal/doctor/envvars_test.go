package doctor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanEnvRefs(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "server.ts"), "const db = process.env.DATABASE_URL\nconst key = process.env['STRIPE_API_KEY']\n")
	write(t, filepath.Join(dir, "features", "auth", "index.tsx"), "if (process.env.NODE_ENV === 'production') { use(process.env.JWT_SECRET) }\n")
	write(t, filepath.Join(dir, "node_modules", "x", "index.js"), "process.env.IGNORED_TOKEN\n")
	write(t, filepath.Join(dir, "notes.md"), "process.env.README_TOKEN\n")

	refs, err := ScanEnvRefs(dir)
	require.NoError(t, err)

	var names []string
	for _, r := range refs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"DATABASE_URL", "JWT_SECRET", "STRIPE_API_KEY"}, names)
	assert.Equal(t, 2, refs[2].Line)
}

func TestMissingSecrets(t *testing.T) {
	cfg := project(t)
	write(t, filepath.Join(cfg.Root, ".env"), "JWT_SECRET=abc\n")
	write(t, filepath.Join(cfg.Root, ".env.example"), "SMTP_PASSWORD=\n")

	refs := []EnvRef{
		{Name: "DATABASE_URL"},
		{Name: "JWT_SECRET"},
		{Name: "SMTP_PASSWORD"},
		{Name: "ARK_TEST_UNSET_TOKEN"},
	}
	missing := MissingSecrets(cfg, refs)
	require.Len(t, missing, 1)
	assert.Equal(t, "ARK_TEST_UNSET_TOKEN", missing[0].Name)
}

func TestDiagnoseWarnsMissingSecret(t *testing.T) {
	stubNode(t, "v20.11.0", nil)
	cfg := healthyProject(t)
	write(t, filepath.Join(cfg.Root, "src", "server.ts"), "export const key = process.env.ARK_TEST_UNSET_API_KEY\n")

	d := Diagnose(cfg)
	assert.Contains(t, d.Warnings, "ARK_TEST_UNSET_API_KEY is used at src/server.ts:1 but not set in .env")
}

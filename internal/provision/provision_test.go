package provision

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseJSON = `{"palette":{"primary":"#0055aa"},"font":"Inter"}`

func newFixture(t *testing.T, template string) (*Provisioner, string) {
	t.Helper()
	root := t.TempDir()
	configs := filepath.Join(root, "client", "src", "themes")
	require.NoError(t, os.MkdirAll(configs, 0o755))
	if template != "" {
		require.NoError(t, os.WriteFile(filepath.Join(configs, "default.json"), []byte(template), 0o644))
	}
	return New(configs, "", filepath.Join(root, "screenshots"), nil), root
}

func TestEnsureTargetFileCopiesOnce(t *testing.T) {
	p, _ := newFixture(t, baseJSON)

	path1, err := p.EnsureTargetFile("acme")
	require.NoError(t, err)
	first, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, baseJSON, string(first))

	// operator edit must survive the second call
	edited := []byte(`{"palette":{"primary":"#ff0000"}}`)
	require.NoError(t, os.WriteFile(path1, edited, 0o644))

	path2, err := p.EnsureTargetFile("acme")
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	second, err := os.ReadFile(path2)
	require.NoError(t, err)
	assert.Equal(t, edited, second)
}

func TestEnsureTargetFileIdempotentBytes(t *testing.T) {
	p, _ := newFixture(t, baseJSON)
	path1, err := p.EnsureTargetFile("beta")
	require.NoError(t, err)
	before, _ := os.ReadFile(path1)
	st1, _ := os.Stat(path1)

	path2, err := p.EnsureTargetFile("beta")
	require.NoError(t, err)
	after, _ := os.ReadFile(path2)
	st2, _ := os.Stat(path2)

	assert.Equal(t, path1, path2)
	assert.Equal(t, before, after)
	assert.Equal(t, st1.ModTime(), st2.ModTime())
}

func TestEnsureTargetFileMissingTemplate(t *testing.T) {
	p, _ := newFixture(t, "")
	_, err := p.EnsureTargetFile("acme")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTemplate))
	assert.False(t, p.TargetExists("acme"))
}

func TestEnsureTargetFileInvalidTemplateDeletesCopy(t *testing.T) {
	for name, body := range map[string]string{
		"truncated": `{"palette":`,
		"array":     `[1,2,3]`,
		"null":      `null`,
		"trailing":  `{"a":1} {"b":2}`,
	} {
		t.Run(name, func(t *testing.T) {
			p, _ := newFixture(t, body)
			_, err := p.EnsureTargetFile("acme")
			var perr *ProvisioningError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "validate", perr.Op)
			_, statErr := os.Stat(p.TargetFilePath("acme"))
			assert.True(t, os.IsNotExist(statErr), "invalid copy must be removed")
		})
	}
}

func TestEnsureTargetFileInvalidExistingIsKept(t *testing.T) {
	p, _ := newFixture(t, baseJSON)
	dst := p.TargetFilePath("acme")
	require.NoError(t, os.WriteFile(dst, []byte("{broken"), 0o644))

	_, err := p.EnsureTargetFile("acme")
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	b, readErr := os.ReadFile(dst)
	require.NoError(t, readErr)
	assert.Equal(t, "{broken", string(b))
}

func TestEnsureTargetDirectoryIdempotent(t *testing.T) {
	p, root := newFixture(t, baseJSON)
	d1, err := p.EnsureTargetDirectory("acme")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "screenshots", "acme"), d1)
	d2, err := p.EnsureTargetDirectory("acme")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	fi, err := os.Stat(d1)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestEnsureTargetDirectoryFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "screenshots")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	p := New(root, "", blocker, nil)

	_, err := p.EnsureTargetDirectory("acme")
	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "mkdir", perr.Op)
}

func TestDeleteTargetFile(t *testing.T) {
	p, _ := newFixture(t, baseJSON)
	_, err := p.EnsureTargetFile("acme")
	require.NoError(t, err)

	removed, err := p.DeleteTargetFile("acme")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = p.DeleteTargetFile("acme")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestBaseTemplate(t *testing.T) {
	p, _ := newFixture(t, baseJSON)
	obj, err := p.BaseTemplate()
	require.NoError(t, err)
	assert.Equal(t, "Inter", obj["font"])

	empty, _ := newFixture(t, "")
	_, err = empty.BaseTemplate()
	assert.ErrorIs(t, err, ErrMissingTemplate)
}

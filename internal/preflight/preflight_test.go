package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/legaldocflow/internal/models"
)

func checkerWith(opts Options, onPath ...string) *Checker {
	c := New(opts, nil)
	c.lookPath = func(name string) (string, error) {
		for _, p := range onPath {
			if p == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
	return c
}

func TestCheck_ToolsOnlyRequiredForClean(t *testing.T) {
	root := t.TempDir()
	c := checkerWith(Options{RootDir: root})

	assert.NoError(t, c.Check(context.Background(), []models.Stage{models.StageDirectory, models.StageVerify}))

	err := c.Check(context.Background(), []models.Stage{models.StageClean})
	assert.ErrorIs(t, err, ErrOCRmyPDFNotFound)
	assert.ErrorIs(t, err, ErrGhostscriptNotFound)
}

func TestCheck_GhostscriptFallbackNames(t *testing.T) {
	c := checkerWith(Options{RootDir: t.TempDir(), Ghostscript: "gs-custom"}, "ocrmypdf", "gswin64c")
	require.NoError(t, c.Check(context.Background(), []models.Stage{models.StageClean}))

	path, err := c.Ghostscript()
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/gswin64c", path)
}

func TestCheck_CloudRequirements(t *testing.T) {
	root := t.TempDir()
	c := checkerWith(Options{RootDir: root, CredentialsFile: filepath.Join(root, "nope.json")})

	err := c.Check(context.Background(), []models.Stage{models.StageRename, models.StageUpload})
	assert.ErrorIs(t, err, ErrNoProject)
	assert.ErrorIs(t, err, ErrNoBucket)
	assert.ErrorIs(t, err, ErrCredentialsMissing)

	creds := filepath.Join(root, "creds.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0o600))
	c = checkerWith(Options{RootDir: root, CredentialsFile: creds, ProjectID: "p", Bucket: "b"})
	assert.NoError(t, c.Check(context.Background(), []models.Stage{models.StageRename, models.StageUpload, models.StageFormat}))
}

func TestCheck_RootMustExist(t *testing.T) {
	c := checkerWith(Options{RootDir: filepath.Join(t.TempDir(), "missing")})
	err := c.Check(context.Background(), []models.Stage{models.StageVerify})
	assert.ErrorIs(t, err, ErrRootMissing)
}

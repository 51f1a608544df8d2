package browser

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultProfileDir(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
		t.Skip("home directory is not read from $HOME")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".meetings2obsidian", "chrome_profile"), DefaultProfileDir())

	t.Setenv("HOME", "")
	dir := DefaultProfileDir()
	assert.True(t, filepath.IsAbs(dir), dir)
	assert.Equal(t, filepath.Join(os.TempDir(), "meetings2obsidian", "chrome_profile"), dir)
}

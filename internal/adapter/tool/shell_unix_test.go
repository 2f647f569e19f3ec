//go:build unix

package tool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"termagent/internal/domain"
)

func TestLocalShellBackend_TimeoutKillsBackgroundChildren(t *testing.T) {
	skipWithoutBash(t)
	dir := t.TempDir()
	b := NewLocalShellBackend(200*time.Millisecond, 1024)

	_, err := b.Execute(context.Background(), "(sleep 1; touch late) & wait", dir)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	time.Sleep(1500 * time.Millisecond)
	assert.NoFileExists(t, filepath.Join(dir, "late"))
}

package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemWarningsAddAndGet(t *testing.T) {
	svc := NewSystemWarningsService()
	assert.Empty(t, svc.GetWarnings())

	id := svc.AddWarning(WarningCategoryConfig, "Using default configuration", "config dir missing", "./config")
	require.NotEmpty(t, id)

	warnings := svc.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, id, warnings[0].ID)
	assert.Equal(t, WarningCategoryConfig, warnings[0].Category)
	assert.Equal(t, "Using default configuration", warnings[0].Message)
	assert.Equal(t, "./config", warnings[0].Source)
	assert.False(t, warnings[0].CreatedAt.IsZero())
}

func TestSystemWarningsReplaceSameCategoryAndSource(t *testing.T) {
	svc := NewSystemWarningsService()

	first := svc.AddWarning(WarningCategoryPlugins, "Plugin failed to load", "syntax error", "branch_projection")
	second := svc.AddWarning(WarningCategoryPlugins, "Plugin failed to load again", "still broken", "branch_projection")
	assert.NotEqual(t, first, second)

	warnings := svc.GetWarnings()
	require.Len(t, warnings, 1, "same category+source replaces")
	assert.Equal(t, second, warnings[0].ID)
	assert.Equal(t, "Plugin failed to load again", warnings[0].Message)

	svc.AddWarning(WarningCategoryPlugins, "Plugin failed to load", "", "emergence_probe")
	assert.Len(t, svc.GetWarnings(), 2, "different source accumulates")
}

func TestSystemWarningsClearBySource(t *testing.T) {
	svc := NewSystemWarningsService()
	svc.AddWarning(WarningCategoryLLMFallback, "LLM unavailable, deterministic fallback active", "", "anthropic")

	assert.False(t, svc.ClearBySource(WarningCategoryLLMFallback, "openai"))
	assert.True(t, svc.ClearBySource(WarningCategoryLLMFallback, "anthropic"))
	assert.Empty(t, svc.GetWarnings())
	assert.False(t, svc.ClearBySource(WarningCategoryLLMFallback, "anthropic"), "second clear is a no-op")
}

func TestSystemWarningsReturnsCopies(t *testing.T) {
	svc := NewSystemWarningsService()
	svc.AddWarning(WarningCategoryConfig, "original", "", "f")

	svc.GetWarnings()[0].Message = "mutated"
	assert.Equal(t, "original", svc.GetWarnings()[0].Message)
}

func TestSystemWarningsConcurrentAccess(t *testing.T) {
	svc := NewSystemWarningsService()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.AddWarning(WarningCategoryConfig, "m", "", "shared")
			svc.GetWarnings()
		}()
	}
	wg.Wait()

	assert.Len(t, svc.GetWarnings(), 1)
}

package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

func intPtr(v int) *int { return &v }

func TestSettings_EffectiveTotal(t *testing.T) {
	tests := []struct {
		name     string
		settings domain.Settings
		total    int
		want     int
	}{
		{name: "no limit", settings: domain.Settings{}, total: 100, want: 100},
		{name: "limit below total", settings: domain.Settings{RowLimit: intPtr(10)}, total: 100, want: 10},
		{name: "limit above total", settings: domain.Settings{RowLimit: intPtr(500)}, total: 100, want: 100},
		{name: "process all overrides limit", settings: domain.Settings{RowLimit: intPtr(10), ProcessAllRows: true}, total: 100, want: 100},
		{name: "empty dataset", settings: domain.Settings{RowLimit: intPtr(10)}, total: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.settings.EffectiveTotal(tt.total))
		})
	}
}

func TestSettings_RunAffectingChange(t *testing.T) {
	base := domain.Settings{ChunkSize: 30, RowConcurrency: 3, RowLimit: intPtr(10)}

	tests := []struct {
		name  string
		other domain.Settings
		want  bool
	}{
		{name: "identical", other: domain.Settings{ChunkSize: 30, RowConcurrency: 3, RowLimit: intPtr(10)}, want: false},
		{name: "chunk size", other: domain.Settings{ChunkSize: 20, RowConcurrency: 3, RowLimit: intPtr(10)}, want: true},
		{name: "concurrency", other: domain.Settings{ChunkSize: 30, RowConcurrency: 1, RowLimit: intPtr(10)}, want: true},
		{name: "row limit", other: domain.Settings{ChunkSize: 30, RowConcurrency: 3, RowLimit: intPtr(20)}, want: true},
		{name: "limit removed", other: domain.Settings{ChunkSize: 30, RowConcurrency: 3}, want: true},
		{name: "process all", other: domain.Settings{ChunkSize: 30, RowConcurrency: 3, ProcessAllRows: true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.RunAffectingChange(tt.other))
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, domain.Settings{ChunkSize: 1, RowConcurrency: 1}.Validate())
	assert.NoError(t, domain.Settings{ChunkSize: 1, RowConcurrency: 1, RowLimit: intPtr(0), ProcessAllRows: true}.Validate())

	err := domain.Settings{ChunkSize: 1, RowConcurrency: 1, RowLimit: intPtr(0)}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	assert.Equal(t, domain.ErrorKindValidation, domain.KindOf(err))
}

func TestExcludePattern_AppliesTo(t *testing.T) {
	all := domain.ExcludePattern{OptionLabels: []string{"該当なし"}, Enabled: true}
	subset := domain.ExcludePattern{OptionLabels: []string{"該当なし"}, Variables: []string{"q1"}, Enabled: true}
	disabled := domain.ExcludePattern{OptionLabels: []string{"該当なし"}}

	assert.True(t, all.AppliesTo("q9"))
	assert.True(t, subset.AppliesTo("q1"))
	assert.False(t, subset.AppliesTo("q2"))
	assert.False(t, disabled.AppliesTo("q1"))
}

func TestJob_CloneIsIndependent(t *testing.T) {
	// Setup
	job := domain.NewJob(domain.JobConfig{
		DatasetID: "ds",
		Settings:  domain.Settings{ChunkSize: 5, RowConcurrency: 2, RowLimit: intPtr(3)},
		Exclusions: domain.Exclusions{
			AdminColumns:    []string{"weight"},
			ExcludePatterns: []domain.ExcludePattern{{ID: "na", OptionLabels: []string{"該当なし"}, Enabled: true}},
		},
	}, 10, time.Now())

	// Execute
	clone := job.Clone()
	*clone.Settings.RowLimit = 9
	clone.Exclusions.AdminColumns[0] = "changed"
	clone.Exclusions.ExcludePatterns[0].OptionLabels[0] = "changed"

	// Assert
	assert.Equal(t, 3, *job.Settings.RowLimit)
	assert.Equal(t, "weight", job.Exclusions.AdminColumns[0])
	assert.Equal(t, "該当なし", job.Exclusions.ExcludePatterns[0].OptionLabels[0])
	assert.Equal(t, -1, job.CurrentRowIndex)
	assert.Equal(t, domain.JobStatusIdle, job.Status)
	assert.Equal(t, 3, job.EffectiveTotal())
}

func TestOperationError(t *testing.T) {
	err := domain.NewConflictError(domain.ErrInvalidTransition, "job is running", "pause")

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.ErrorKindConflict, domain.KindOf(err))
	assert.Equal(t, domain.ErrorKindFatal, domain.KindOf(errors.New("boom")))
	assert.Contains(t, err.Error(), "job is running")
}

func TestEngineError(t *testing.T) {
	cause := errors.New("rate limited")

	assert.True(t, domain.IsTransient(domain.NewTransientError(cause)))
	assert.False(t, domain.IsTransient(domain.NewPermanentError(cause)))
	assert.False(t, domain.IsTransient(cause))
	assert.ErrorIs(t, domain.NewTransientError(cause), cause)
}

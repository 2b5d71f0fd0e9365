package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mergeNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMergeKeepsFieldsOwnedByOtherStages(t *testing.T) {
	job := Job{ID: "j1", Status: StatusPending}
	job = Merge(job, DiscoveryResult{Queries: []string{"q"}}, mergeNow)
	job = Merge(job, ExtractionResult{Pages: []Page{{URL: "https://a.test"}}, Own: DomainProfile{ContentDepth: 40}}, mergeNow)

	require.NotNil(t, job.Discovery)
	require.NotNil(t, job.Extraction)
	require.NotNil(t, job.Profile)
	assert.Equal(t, []string{"q"}, job.Discovery.Queries)
	assert.Equal(t, 40, job.Profile.ContentDepth)
	assert.Equal(t, StageExtraction, job.Stage)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, int64(2), job.Revision)
	assert.Equal(t, "Extracting page signals", job.StageLabel)
}

func TestMergeStageNeverDecreases(t *testing.T) {
	job := Job{Stage: StageAssets, Status: StatusRunning}
	job = Merge(job, PatternStageResult{Result: PatternResult{CurrentScore: 30}}, mergeNow)
	assert.Equal(t, StageAssets, job.Stage)
	assert.Equal(t, 30, job.Patterns.CurrentScore)
}

func TestMergeAssetsPatchesGapsOnCopy(t *testing.T) {
	patterns := &PatternResult{Gaps: []Gap{{Name: "Missing FAQ section"}, {Name: "Weak internal linking"}}}
	before := Job{Stage: StageResearch, Status: StatusRunning, Patterns: patterns}

	after := Merge(before, AssetsResult{Assets: []Asset{{GapName: "Missing FAQ section"}}}, mergeNow)

	assert.True(t, after.Patterns.Gaps[0].AssetGenerated)
	assert.False(t, after.Patterns.Gaps[1].AssetGenerated)
	assert.False(t, before.Patterns.Gaps[0].AssetGenerated)
}

func TestMergeFailureDoesNotAdvanceStage(t *testing.T) {
	job := Job{Stage: StageDiscovery, Status: StatusRunning}
	job = Merge(job, FailureResult{Failed: StageExtraction, Message: "search down"}, mergeNow)
	assert.Equal(t, StageDiscovery, job.Stage)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "search down", job.Error)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, job.Terminal())
}

func TestMergeReportCompletes(t *testing.T) {
	job := Job{Stage: StageAssets, Status: StatusRunning}
	job = Merge(job, ReportResult{Error: "all renderers failed"}, mergeNow)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, StageReport, job.Stage)
	assert.Equal(t, "all renderers failed", job.Error)
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(s.Name())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("created")
	assert.Error(t, err)
	_, err = ParseStage("bogus")
	assert.Error(t, err)
}

func TestPageSchemaTypesSkipsInvalid(t *testing.T) {
	p := Page{StructuredData: []StructuredData{
		{Type: "Article", IsValid: true},
		{Type: "Invalid"},
		{Type: "Article", IsValid: true},
		{Type: "FAQPage", IsValid: true},
	}}
	assert.Equal(t, []string{"Article", "FAQPage"}, p.SchemaTypes())
}

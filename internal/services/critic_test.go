package services

import (
	"strings"
	"testing"

	"storyforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdictPlainJSON(t *testing.T) {
	verdict, err := parseVerdict(`{"content":"Tight pacing.","rating":8,"recommendations":["Trim act two"]}`)
	require.NoError(t, err)

	assert.Equal(t, "Tight pacing.", verdict.Content)
	require.NotNil(t, verdict.Rating)
	assert.Equal(t, 8, *verdict.Rating)
	assert.Equal(t, []string{"Trim act two"}, verdict.Recommendations)
}

func TestParseVerdictStripsMarkdownFences(t *testing.T) {
	text := "```json\n{\"content\":\"Solid.\",\"rating\":7}\n```"
	verdict, err := parseVerdict(text)
	require.NoError(t, err)
	assert.Equal(t, "Solid.", verdict.Content)
}

func TestParseVerdictNonJSONKeptVerbatim(t *testing.T) {
	verdict, err := parseVerdict("The opening drags but the climax lands.")
	require.NoError(t, err)
	assert.Equal(t, "The opening drags but the climax lands.", verdict.Content)
	assert.Nil(t, verdict.Rating)
}

func TestParseVerdictRejectsEmptyContent(t *testing.T) {
	_, err := parseVerdict(`{"rating":5}`)
	assert.Error(t, err)
}

func TestParseVerdictDropsOutOfRangeRating(t *testing.T) {
	verdict, err := parseVerdict(`{"content":"Fine.","rating":42}`)
	require.NoError(t, err)
	assert.Nil(t, verdict.Rating)

	verdict, err = parseVerdict(`{"content":"Fine.","rating":0}`)
	require.NoError(t, err)
	assert.Nil(t, verdict.Rating)
}

func TestBuildCriticPromptIncludesPersonaAndContext(t *testing.T) {
	critic, ok := models.CriticByID("pacing")
	require.True(t, ok)

	related := []*models.RelatedScene{
		{Title: "The Chase", ChunkText: "They ran through the alley."},
	}
	system, user := buildCriticPrompt(critic, models.TargetScene, "The standoff begins.", related)

	assert.Contains(t, system, critic.Name)
	assert.Contains(t, system, "JSON")
	assert.Contains(t, user, "The Chase")
	assert.Contains(t, user, "The standoff begins.")
	assert.Contains(t, user, "scene")
}

func TestBuildCriticPromptWithoutRelatedScenes(t *testing.T) {
	critic, ok := models.CriticByID("structure")
	require.True(t, ok)

	_, user := buildCriticPrompt(critic, models.TargetProject, "Full draft.", nil)
	assert.NotContains(t, user, "Related scenes")
	assert.Contains(t, user, "project")
}

func TestChunkText(t *testing.T) {
	assert.Empty(t, chunkText("", 500))
	assert.Empty(t, chunkText("   \n\t  ", 500))

	words := make([]string, 1200)
	for i := range words {
		words[i] = "word"
	}
	chunks := chunkText(strings.Join(words, " "), 500)
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[0]), 500)
	assert.Len(t, strings.Fields(chunks[2]), 200)

	chunks = chunkText("one two three", 500)
	assert.Equal(t, []string{"one two three"}, chunks)
}

package matcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/ideabot/internal/project"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"moon", "song", "retreat"}, Tokenize("  Moon, SONG!  (retreat) "))
	assert.Empty(t, Tokenize(" ... "))
	assert.Equal(t, []string{"full-moon"}, Tokenize("full-moon"))
}

func TestFindSimilar_TieKeepsStoreOrder(t *testing.T) {
	projects := []project.Project{
		{ID: "1", Name: "Moon Song", Type: project.TypeSong},
		{ID: "2", Name: "Moon Ritual", Type: project.TypeWorkshop},
	}
	got := FindSimilar("moon", projects, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "Moon Song", got[0].Project.Name)
	assert.Equal(t, "Moon Ritual", got[1].Project.Name)
	assert.Equal(t, WeightName, got[0].Score)
	assert.Equal(t, WeightName, got[1].Score)
}

func TestFindSimilar_DropsZeroScores(t *testing.T) {
	projects := []project.Project{
		{Name: "Ocean", Type: project.TypeAlbum},
		{Name: "Forest Walk", Type: project.TypeRetreat},
	}
	got := FindSimilar("ocean", projects, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Ocean", got[0].Project.Name)
}

func TestFindSimilar_Weights(t *testing.T) {
	p := project.Project{
		Name:          "Mountain Retreat",
		Type:          project.TypeRetreat,
		Tags:          []string{"nature", "silence"},
		Notes:         "bring the singing bowls",
		OriginalAudio: "",
	}
	tests := []struct {
		kw   string
		want int
	}{
		{"retreat", WeightName + WeightType},
		{"retreats", WeightNameFuzzy + WeightTypeFuzzy},
		{"silence", WeightTags},
		{"bowls", WeightText},
		{"getaway", WeightNameFuzzy + WeightTypeFuzzy},
		{"piano", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Score(Tokenize(tt.kw), p), tt.kw)
	}
}

func TestFindSimilar_SumsOverKeywords(t *testing.T) {
	p := project.Project{Name: "Moon Song", Type: project.TypeSong}
	assert.Equal(t, WeightName+WeightName+WeightType, Score(Tokenize("moon song"), p))
}

func TestFindSimilar_SynonymsAreBidirectional(t *testing.T) {
	dance := project.Project{Name: "Dancing Bodies", Type: project.TypeCourse}
	assert.Equal(t, WeightNameFuzzy, Score([]string{"dance"}, dance))

	class := project.Project{Name: "Dance Class"}
	assert.Equal(t, WeightNameFuzzy, Score([]string{"dancing"}, class))
	assert.True(t, Synonyms("class", "course"))
	assert.True(t, Synonyms("course", "class"))
	assert.False(t, Synonyms("course", "course"))
	assert.False(t, Synonyms("album", "song"))
}

func TestFindSimilar_OrderingAndLimit(t *testing.T) {
	var projects []project.Project
	for i := 0; i < 8; i++ {
		projects = append(projects, project.Project{ID: fmt.Sprint(i), Name: fmt.Sprintf("Idea %d", i), Notes: "moon"})
	}
	projects = append(projects, project.Project{ID: "top", Name: "Moon Album", Type: project.TypeAlbum})

	got := FindSimilar("moon", projects, 0)
	require.Len(t, got, DefaultLimit)
	assert.Equal(t, "top", got[0].Project.ID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
		assert.Positive(t, got[i].Score)
	}
	assert.Equal(t, "0", got[1].Project.ID)

	assert.Len(t, FindSimilar("moon", projects, 2), 2)
}

func TestFindSimilar_Empty(t *testing.T) {
	assert.Empty(t, FindSimilar("moon", nil, 5))
	assert.Empty(t, FindSimilar("   ", []project.Project{{Name: "Moon"}}, 5))
}

func TestFuzzy_ShortStringsDoNotMatch(t *testing.T) {
	assert.False(t, Fuzzy("a", "banana"))
	assert.False(t, Fuzzy("banana", "an"))
	assert.True(t, Fuzzy("ban", "banana"))
	assert.True(t, Fuzzy("retreats", "retreat"))
}

func TestFindByKeywords_ExactOutranksPartial(t *testing.T) {
	projects := []project.Project{
		{ID: "1", Name: "Ocean Waves"},
		{ID: "2", Name: "ocean"},
	}
	got, ok := FindByKeywords("Ocean", projects)
	require.True(t, ok)
	assert.Equal(t, "2", got.ID)
}

func TestFindByKeywords_Tiers(t *testing.T) {
	projects := []project.Project{
		{ID: "notes", Name: "Untitled", Type: project.TypeProject, Notes: "about the big blue sea"},
		{ID: "type", Name: "Something", Type: project.TypeWorkshop},
		{ID: "any", Name: "Blue Hour"},
		{ID: "all", Name: "Sea of Blue"},
		{ID: "contains", Name: "The Deep Blue Sea Suite"},
	}

	got, ok := FindByKeywords("blue sea", projects)
	require.True(t, ok)
	assert.Equal(t, "contains", got.ID)

	got, ok = FindByKeywords("sea blue", projects)
	require.True(t, ok)
	assert.Equal(t, "all", got.ID, "every keyword in the name beats any keyword")

	got, ok = FindByKeywords("hour trumpet", projects)
	require.True(t, ok)
	assert.Equal(t, "any", got.ID)

	got, ok = FindByKeywords("workshop", projects)
	require.True(t, ok)
	assert.Equal(t, "type", got.ID)

	got, ok = FindByKeywords("big", projects)
	require.True(t, ok)
	assert.Equal(t, "notes", got.ID)
}

func TestFindByKeywords_AudioAndMisses(t *testing.T) {
	projects := []project.Project{{ID: "1", Name: "Untitled", OriginalAudio: "hummed a melody in the car"}}

	got, ok := FindByKeywords("melody", projects)
	require.True(t, ok)
	assert.Equal(t, "1", got.ID)

	_, ok = FindByKeywords("trumpet", projects)
	assert.False(t, ok)
	_, ok = FindByKeywords("", projects)
	assert.False(t, ok)
	_, ok = FindByKeywords("melody", nil)
	assert.False(t, ok)
}

func TestFindByName_CaseSensitive(t *testing.T) {
	projects := []project.Project{{ID: "1", Name: "Ocean"}}
	_, ok := FindByName("ocean", projects)
	assert.False(t, ok)
	got, ok := FindByName("Ocean", projects)
	require.True(t, ok)
	assert.Equal(t, "1", got.ID)
}

func TestProjects(t *testing.T) {
	got := Projects([]Match{{Project: project.Project{ID: "a"}, Score: 3}})
	assert.Equal(t, []project.Project{{ID: "a"}}, got)
}

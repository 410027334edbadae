package crafts

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinnamon-msft/tangled/internal/collection"
	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/github"
	"github.com/cinnamon-msft/tangled/internal/github/ghfake"
	"github.com/cinnamon-msft/tangled/internal/models"
)

type signedIn struct{}

func (signedIn) IsAuthenticated() bool { return true }
func (signedIn) Token() (string, error) { return "good-token", nil }

func newTestService(t *testing.T) (*Service, *ghfake.Server) {
	t.Helper()
	fake := ghfake.New("octo", "crafts")
	t.Cleanup(fake.Close)
	fake.AddToken("good-token", "octocat")

	client, err := github.NewClient(github.Config{BaseURL: fake.URL, Owner: "octo", Repo: "crafts"}, signedIn{}, zerolog.Nop())
	require.NoError(t, err)

	return New(collection.Options{
		DataPath: "data",
		Remote:   client,
		Session:  signedIn{},
		Logger:   zerolog.Nop(),
	}), fake
}

func seed(t *testing.T, s *Service) (project models.Project, wool, cotton models.Material) {
	t.Helper()
	ctx := context.Background()
	var err error
	project, err = s.Projects.Create(ctx, models.Project{Name: "Sweater", CraftType: models.CraftKnitting})
	require.NoError(t, err)
	wool, err = s.Materials.Create(ctx, models.Material{Name: "Wool"})
	require.NoError(t, err)
	cotton, err = s.Materials.Create(ctx, models.Material{Name: "Cotton"})
	require.NoError(t, err)
	return project, wool, cotton
}

func TestNew_DocumentPaths(t *testing.T) {
	s, _ := newTestService(t)
	assert.Equal(t, "data/projects.json", s.Projects.Path())
	assert.Equal(t, "data/materials.json", s.Materials.Path())
	assert.Equal(t, "data/ideas.json", s.Ideas.Path())
}

func TestAssignAndRemoveMaterial(t *testing.T) {
	s, fake := newTestService(t)
	ctx := context.Background()
	project, wool, cotton := seed(t, s)

	yards := 220
	link, err := s.AssignMaterial(ctx, project.ID, wool.ID, &yards)
	require.NoError(t, err)
	assert.Equal(t, 1, link.ID)
	assert.Equal(t, project.ID, link.ProjectID)

	second, err := s.AssignMaterial(ctx, project.ID, cotton.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)

	got, err := s.Projects.GetByID(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, got.ProjectMaterials, 2)
	require.NotNil(t, got.ProjectMaterials[0].YardsUsed)
	assert.Equal(t, 220, *got.ProjectMaterials[0].YardsUsed)
	assert.Equal(t, project.CreatedAt, got.CreatedAt)

	used, err := s.MaterialUsage(ctx, wool.ID)
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.Equal(t, "Sweater", used[0].Name)

	require.NoError(t, s.RemoveMaterial(ctx, project.ID, link.ID))
	got, err = s.Projects.GetByID(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, got.ProjectMaterials, 1)
	assert.Equal(t, cotton.ID, got.ProjectMaterials[0].MaterialID)

	used, err = s.MaterialUsage(ctx, wool.ID)
	require.NoError(t, err)
	assert.Empty(t, used)

	last := fake.Commits()[len(fake.Commits())-1]
	assert.Equal(t, "Update project #1", last.Message)
}

func TestAssignMaterial_Errors(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	project, wool, _ := seed(t, s)

	_, err := s.AssignMaterial(ctx, project.ID, 99, nil)
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = s.AssignMaterial(ctx, 42, wool.ID, nil)
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	negative := -1
	_, err = s.AssignMaterial(ctx, project.ID, wool.ID, &negative)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	assert.ErrorIs(t, s.RemoveMaterial(ctx, project.ID, 5), perrors.ErrNotFound)
}

func TestIdeasCollection(t *testing.T) {
	s, fake := newTestService(t)
	ctx := context.Background()

	idea, err := s.Ideas.Create(ctx, models.ProjectIdea{Name: "Granny square blanket"})
	require.NoError(t, err)
	assert.Equal(t, 1, idea.ID)

	raw, ok := fake.File("data/ideas.json")
	require.True(t, ok)
	assert.Contains(t, string(raw), `"ideas": [`)
	assert.Equal(t, "Create idea: Granny square blanket", fake.Commits()[0].Message)
}

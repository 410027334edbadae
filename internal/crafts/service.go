// Package crafts groups the three collections and the operations that span them.
package crafts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cinnamon-msft/tangled/internal/collection"
	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/models"
)

// Collection names, which are also the document file names.
const (
	ProjectsCollection  = "projects"
	MaterialsCollection = "materials"
	IdeasCollection     = "ideas"
)

type (
	Projects  = collection.Collection[models.Project, *models.Project]
	Materials = collection.Collection[models.Material, *models.Material]
	Ideas     = collection.Collection[models.ProjectIdea, *models.ProjectIdea]
)

// Service owns one collection per entity kind.
type Service struct {
	Projects  *Projects
	Materials *Materials
	Ideas     *Ideas

	logger zerolog.Logger
	now    func() time.Time
}

// New builds the three collections from shared options; Name and Noun are
// filled in per collection.
func New(base collection.Options) *Service {
	withName := func(name, noun string) collection.Options {
		opts := base
		opts.Name = name
		opts.Noun = noun
		return opts
	}
	return &Service{
		Projects:  collection.New[models.Project](withName(ProjectsCollection, "project")),
		Materials: collection.New[models.Material](withName(MaterialsCollection, "material")),
		Ideas:     collection.New[models.ProjectIdea](withName(IdeasCollection, "idea")),
		logger:    base.Logger.With().Str("component", "crafts").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AssignMaterial links a material to a project. The link gets the next link id
// within the project.
func (s *Service) AssignMaterial(ctx context.Context, projectID, materialID int, yardsUsed *int) (models.ProjectMaterial, error) {
	if yardsUsed != nil && *yardsUsed < 0 {
		return models.ProjectMaterial{}, fmt.Errorf("yards used must not be negative: %w", perrors.ErrInvalidInput)
	}
	if _, err := s.Materials.GetByID(ctx, materialID); err != nil {
		return models.ProjectMaterial{}, err
	}
	project, err := s.Projects.GetByID(ctx, projectID)
	if err != nil {
		return models.ProjectMaterial{}, err
	}

	link := models.ProjectMaterial{
		ID:         nextLinkID(project.ProjectMaterials),
		ProjectID:  projectID,
		MaterialID: materialID,
		YardsUsed:  yardsUsed,
		CreatedAt:  s.now(),
	}
	links := append(append([]models.ProjectMaterial(nil), project.ProjectMaterials...), link)

	if err := s.setLinks(ctx, projectID, links); err != nil {
		return models.ProjectMaterial{}, err
	}
	s.logger.Info().Int("project_id", projectID).Int("material_id", materialID).Msg("material assigned")
	return link, nil
}

// RemoveMaterial drops one link from a project.
func (s *Service) RemoveMaterial(ctx context.Context, projectID, linkID int) error {
	project, err := s.Projects.GetByID(ctx, projectID)
	if err != nil {
		return err
	}

	links := make([]models.ProjectMaterial, 0, len(project.ProjectMaterials))
	found := false
	for _, l := range project.ProjectMaterials {
		if l.ID == linkID {
			found = true
			continue
		}
		links = append(links, l)
	}
	if !found {
		return fmt.Errorf("material link %d on project %d: %w", linkID, projectID, perrors.ErrNotFound)
	}

	return s.setLinks(ctx, projectID, links)
}

// MaterialUsage lists the projects that use a material.
func (s *Service) MaterialUsage(ctx context.Context, materialID int) ([]models.Project, error) {
	if _, err := s.Materials.GetByID(ctx, materialID); err != nil {
		return nil, err
	}
	projects, err := s.Projects.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Project
	for _, p := range projects {
		for _, l := range p.ProjectMaterials {
			if l.MaterialID == materialID {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (s *Service) setLinks(ctx context.Context, projectID int, links []models.ProjectMaterial) error {
	raw, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encoding material links: %w", err)
	}
	return s.Projects.Update(ctx, projectID, collection.Patch{"projectMaterials": raw})
}

func nextLinkID(links []models.ProjectMaterial) int {
	highest := 0
	for _, l := range links {
		if l.ID > highest {
			highest = l.ID
		}
	}
	return highest + 1
}

// Package projectorder keeps the user's manual ordering of projects per page section.
package projectorder

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/models"
)

// Section names a list of projects shown together.
type Section string

const (
	SectionInProgress Section = "inProgress"
	SectionKnitting   Section = "knitting"
	SectionCrochet    Section = "crochet"
	SectionEmbroidery Section = "embroidery"
)

// Sections lists every known section.
var Sections = []Section{SectionInProgress, SectionKnitting, SectionCrochet, SectionEmbroidery}

// ParseSection validates a section name.
func ParseSection(s string) (Section, error) {
	for _, sec := range Sections {
		if string(sec) == s {
			return sec, nil
		}
	}
	return "", fmt.Errorf("unknown section %q: %w", s, perrors.ErrInvalidInput)
}

// Contains reports whether p is listed in the section.
func (s Section) Contains(p models.Project) bool {
	switch s {
	case SectionInProgress:
		return p.Status == models.StatusInProgress
	case SectionKnitting:
		return p.CraftType == models.CraftKnitting
	case SectionCrochet:
		return p.CraftType == models.CraftCrochet
	case SectionEmbroidery:
		return p.CraftType == models.CraftEmbroidery
	}
	return false
}

// Store persists orders. internal/store implements it.
type Store interface {
	ProjectOrder(ctx context.Context, section string) ([]int, error)
	SetProjectOrder(ctx context.Context, section string, ids []int) error
}

// Service reads and writes section orders.
type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger.With().Str("component", "projectorder").Logger()}
}

// Order returns the stored ids for section.
func (s *Service) Order(ctx context.Context, section string) ([]int, error) {
	sec, err := ParseSection(section)
	if err != nil {
		return nil, err
	}
	return s.store.ProjectOrder(ctx, string(sec))
}

// SetOrder replaces the ids for section. Duplicate ids keep their first position.
func (s *Service) SetOrder(ctx context.Context, section string, ids []int) error {
	sec, err := ParseSection(section)
	if err != nil {
		return err
	}

	seen := make(map[int]bool, len(ids))
	unique := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	if err := s.store.SetProjectOrder(ctx, string(sec), unique); err != nil {
		return err
	}
	s.logger.Debug().Str("section", string(sec)).Int("count", len(unique)).Msg("project order saved")
	return nil
}

// Arrange filters projects to section and applies its stored order.
func (s *Service) Arrange(ctx context.Context, projects []models.Project, section string) ([]models.Project, error) {
	order, err := s.Order(ctx, section)
	if err != nil {
		return nil, err
	}
	sec := Section(section)

	in := make([]models.Project, 0, len(projects))
	for _, p := range projects {
		if sec.Contains(p) {
			in = append(in, p)
		}
	}
	return Sort(in, order), nil
}

// Sort puts ordered ids first in stored order; the rest follow in their
// original relative order. The input is not modified.
func Sort(projects []models.Project, order []int) []models.Project {
	out := append([]models.Project(nil), projects...)
	if len(order) == 0 {
		return out
	}

	rank := make(map[int]int, len(order))
	for i, id := range order {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	pos := func(id int) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return len(order)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return pos(out[i].ID) < pos(out[j].ID)
	})
	return out
}

// Package models defines the crafts-tracker entities stored in the collection documents.
package models

import (
	"fmt"
	"strings"
	"time"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
)

// Base holds the bookkeeping fields every stored entity carries.
type Base struct {
	ID        int       `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Meta exposes the bookkeeping fields to generic collection code.
func (b *Base) Meta() *Base { return b }

// Image is metadata for an uploaded picture. The file itself lives elsewhere.
// Exactly one owner id is set, matching the list the image sits in.
type Image struct {
	ID            int       `json:"id"`
	ProjectID     *int      `json:"projectId,omitempty"`
	MaterialID    *int      `json:"materialId,omitempty"`
	ProjectIdeaID *int      `json:"projectIdeaId,omitempty"`
	FileName      string    `json:"fileName"`
	FilePath      string    `json:"filePath"`
	UploadedAt    time.Time `json:"uploadedAt"`
	Extra         Extra     `json:"-"`
}

// ProjectMaterial links a material to a project.
type ProjectMaterial struct {
	ID         int       `json:"id"`
	ProjectID  int       `json:"projectId"`
	MaterialID int       `json:"materialId"`
	YardsUsed  *int      `json:"yardsUsed,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Extra      Extra     `json:"-"`
}

// Project is a knitting, crochet or embroidery project.
type Project struct {
	Base
	Name             string            `json:"name"`
	CraftType        CraftType         `json:"craftType"`
	Status           ProjectStatus     `json:"status"`
	PatternName      string            `json:"patternName,omitempty"`
	PatternLink      string            `json:"patternLink,omitempty"`
	HookOrNeedleSize string            `json:"hookOrNeedleSize,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	StartDate        *Date             `json:"startDate,omitempty"`
	CompletionDate   *Date             `json:"completionDate,omitempty"`
	IsFavorite       bool              `json:"isFavorite"`
	ProjectMaterials []ProjectMaterial `json:"projectMaterials,omitempty"`
	ProjectImages    []Image           `json:"projectImages,omitempty"`
	Extra            Extra             `json:"-"`
}

func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("project name is required: %w", perrors.ErrInvalidInput)
	}
	if !p.CraftType.Valid() {
		return fmt.Errorf("unknown craft type %d: %w", p.CraftType, perrors.ErrInvalidInput)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("unknown project status %d: %w", p.Status, perrors.ErrInvalidInput)
	}
	return nil
}

// Material is a yarn or floss in the stash.
type Material struct {
	Base
	Name             string      `json:"name"`
	Brand            string      `json:"brand,omitempty"`
	Color            string      `json:"color,omitempty"`
	Weight           *YarnWeight `json:"weight,omitempty"`
	FiberContent     string      `json:"fiberContent,omitempty"`
	Yardage          *int        `json:"yardage,omitempty"`
	RemainingYardage *int        `json:"remainingYardage,omitempty"`
	SkeinQuantity    *int        `json:"skeinQuantity,omitempty"`
	DyeLot           string      `json:"dyeLot,omitempty"`
	PurchaseDate     *Date       `json:"purchaseDate,omitempty"`
	PurchasedAt      string      `json:"purchasedAt,omitempty"`
	PurchasePrice    *float64    `json:"purchasePrice,omitempty"`
	ImageURL         string      `json:"imageUrl,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	MaterialImages   []Image     `json:"materialImages,omitempty"`
	Extra            Extra       `json:"-"`
}

func (m *Material) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("material name is required: %w", perrors.ErrInvalidInput)
	}
	if m.Weight != nil && !m.Weight.Valid() {
		return fmt.Errorf("unknown yarn weight %d: %w", *m.Weight, perrors.ErrInvalidInput)
	}
	return nil
}

// ProjectIdea is something to make someday.
type ProjectIdea struct {
	Base
	Name                string  `json:"name"`
	Description         string  `json:"description,omitempty"`
	InspirationLinks    string  `json:"inspirationLinks,omitempty"`
	EstimatedDifficulty string  `json:"estimatedDifficulty,omitempty"`
	Notes               string  `json:"notes,omitempty"`
	ProjectIdeaImages   []Image `json:"projectIdeaImages,omitempty"`
	Extra               Extra   `json:"-"`
}

func (i *ProjectIdea) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("idea name is required: %w", perrors.ErrInvalidInput)
	}
	return nil
}

// Title names the entity in commit messages.
func (p *Project) Title() string { return p.Name }

func (m *Material) Title() string { return m.Name }

func (i *ProjectIdea) Title() string { return i.Name }

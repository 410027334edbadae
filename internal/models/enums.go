package models

import "fmt"

// CraftType is the kind of needlework a project uses.
type CraftType int

const (
	CraftKnitting CraftType = iota
	CraftCrochet
	CraftEmbroidery
)

func (c CraftType) String() string {
	switch c {
	case CraftKnitting:
		return "knitting"
	case CraftCrochet:
		return "crochet"
	case CraftEmbroidery:
		return "embroidery"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known craft type.
func (c CraftType) Valid() bool {
	return c >= CraftKnitting && c <= CraftEmbroidery
}

// ProjectStatus tracks how far along a project is.
type ProjectStatus int

const (
	StatusPlanning ProjectStatus = iota
	StatusInProgress
	StatusCompleted
)

func (s ProjectStatus) String() string {
	switch s {
	case StatusPlanning:
		return "planning"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func (s ProjectStatus) Valid() bool {
	return s >= StatusPlanning && s <= StatusCompleted
}

// YarnWeight is the standard yarn weight category.
type YarnWeight int

const (
	WeightLace YarnWeight = iota
	WeightFingering
	WeightSport
	WeightDK
	WeightWorsted
	WeightBulky
	WeightSuperBulky
	WeightJumbo
)

var yarnWeightNames = [...]string{"lace", "fingering", "sport", "dk", "worsted", "bulky", "super_bulky", "jumbo"}

func (w YarnWeight) String() string {
	if !w.Valid() {
		return fmt.Sprintf("unknown(%d)", int(w))
	}
	return yarnWeightNames[w]
}

func (w YarnWeight) Valid() bool {
	return w >= WeightLace && w <= WeightJumbo
}

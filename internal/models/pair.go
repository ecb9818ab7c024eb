package models

import "gorm.io/gorm"

// Pair stores the reference price the engine measures dips against.
// The reference trails the highest price seen while no position is open.
type Pair struct {
	gorm.Model
	Symbol         string  `gorm:"uniqueIndex;not null"`
	ReferencePrice float64 `gorm:"not null"`
}

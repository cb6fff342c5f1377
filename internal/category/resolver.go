// Package category decides which spend category a confirmed transfer counts
// towards.
package category

import (
	"campuschain/internal/core"
	"campuschain/internal/ledger"
)

// Default is used when neither the note nor the merchant registry names a
// category.
const Default = core.CategoryUncategorized

// Registry maps receiving addresses to registered merchant categories.
type Registry interface {
	CategoryOf(address string) (core.Category, bool)
}

// MapRegistry is a Registry backed by a snapshot map.
type MapRegistry map[string]core.Category

func (m MapRegistry) CategoryOf(address string) (core.Category, bool) {
	c, ok := m[address]
	return c, ok
}

// Resolve picks the category for raw. A recognized {"cat": ...} note wins,
// then the receiver's registered merchant category, then Default. It does no
// I/O and always returns the same answer for the same inputs.
func Resolve(raw ledger.RawTransfer, registry Registry) core.Category {
	if label, ok := ledger.NoteCategory(raw.Note); ok {
		if c, ok := core.ParseCategory(label); ok {
			return c
		}
	}
	if registry != nil {
		if c, ok := registry.CategoryOf(raw.Receiver); ok && c.IsSpendable() {
			return c
		}
	}
	return Default
}

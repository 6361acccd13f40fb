// Package identity assigns display colors and validates display names.
//
// Invariants:
// - Colors always come from the fixed 8-entry Palette.
// - AssignColor is deterministic: the same name yields the same color.
// - Name matching is case-sensitive and applied to trimmed names.
//
// Usage:
//
//	name, err := identity.ValidateName("  Alice ", []string{"Bob"})
//	if err != nil {
//		return err
//	}
//	color := identity.AssignColor(name)
package identity

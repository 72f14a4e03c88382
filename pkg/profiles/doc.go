// Package profiles stores per-subject custom limits. They rank below a
// special-access override and above the subscription plan.
package profiles

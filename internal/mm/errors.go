// internal/mm/errors.go

package mm

import "github.com/cockroachdb/errors"

var (
	// ErrUnaligned is returned when an address must be page aligned but is not.
	ErrUnaligned = errors.New("address is not page aligned")
	// ErrOverlap is returned when a mapping request touches an already mapped page.
	ErrOverlap = errors.New("range overlaps an existing mapping")
	// ErrNotMapped is returned when an unmap request covers pages that were never mmapped.
	ErrNotMapped = errors.New("range is not mapped")
	// ErrPageFault is returned when an address does not resolve in the address space.
	ErrPageFault = errors.New("page fault")
	// ErrPermission is returned when a user access violates page permissions.
	ErrPermission = errors.New("page permission violation")
	// ErrBrkOutOfRange is returned when the program break would leave the heap window.
	ErrBrkOutOfRange = errors.New("program break out of range")
	// ErrNoMemory is returned when a mapping request is larger than MaxMapPages.
	ErrNoMemory = errors.New("mapping too large")
	// ErrNoAddressSpace is returned for an unknown address space token.
	ErrNoAddressSpace = errors.New("no such address space")
)

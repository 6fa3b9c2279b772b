package core

// MESIState represents the MESI state of a simulated cache line.
type MESIState string

const (
	MESIInvalid   MESIState = "Invalid"   // Cache line is invalid (not present or stale)
	MESIShared    MESIState = "Shared"    // Cache line is shared (multiple caches may have it)
	MESIExclusive MESIState = "Exclusive" // Cache line is exclusive (only this cache has it, clean)
	MESIModified  MESIState = "Modified"  // Cache line is modified (only this cache has it, dirty)
)

// IsValid returns true if the cache line is valid (not Invalid).
func (s MESIState) IsValid() bool {
	return s != MESIInvalid && s != ""
}

// IsDirty returns true if the line must be written back before invalidation.
func (s MESIState) IsDirty() bool {
	return s == MESIModified
}

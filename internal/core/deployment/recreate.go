package deployment

// ShouldRecreate reports whether already-realized resources must be torn down
// before creating again. existing is the fingerprint read back from the
// engine, nil when nothing was found.
func ShouldRecreate(existing *string, current string, force, noRecreate bool) bool {
	if force {
		return true
	}
	if noRecreate {
		return false
	}
	return existing == nil || *existing != current
}

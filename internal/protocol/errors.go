package protocol

const (
	// Request validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Assembly pipeline.
	ErrNoUnits          = "E_NO_UNITS"
	ErrNoFreeSpace      = "E_NO_FREE_SPACE"
	ErrIncompatibleData = "E_INCOMPATIBLE_DATA"

	// Spawn barrier.
	ErrSpawnTimeout = "E_SPAWN_TIMEOUT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:       {},
	ErrNoUnits:          {},
	ErrNoFreeSpace:      {},
	ErrIncompatibleData: {},
	ErrSpawnTimeout:     {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

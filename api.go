package strata

// Version reports the version string of the loaded engine library.
func Version() (string, error) {
	if err := InitLibrary(); err != nil {
		return "", err
	}
	return strata_version(), nil
}

// MemoryUsed reports the bytes of memory currently held by the engine.
func MemoryUsed() (int64, error) {
	if err := InitLibrary(); err != nil {
		return 0, err
	}
	return strata_memory_used(), nil
}

// Randomness returns n bytes from the engine's random number generator.
func Randomness(n int) ([]byte, error) {
	if err := InitLibrary(); err != nil {
		return nil, err
	}
	return strata_randomness(n), nil
}

package processing

// Parameters is an endpoint parameter mapping.
type Parameters map[string]interface{}

// RemoveReservedParameters returns a copy of params without the keys
// matched by isReserved.
func RemoveReservedParameters(params Parameters, isReserved func(string) bool) Parameters {
	out := make(Parameters, len(params))
	for key, value := range params {
		if isReserved(key) {
			continue
		}
		out[key] = value
	}
	return out
}

// AddReservedParameters copies the reserved keys of initial into modified,
// overwriting any same named keys. It returns modified.
func AddReservedParameters(initial, modified Parameters, isReserved func(string) bool) Parameters {
	if modified == nil {
		modified = make(Parameters)
	}
	for key, value := range initial {
		if isReserved(key) {
			modified[key] = value
		}
	}
	return modified
}

package ois

// ReservedParameters are request metadata keys that processing snippets can
// neither read nor overwrite.
var ReservedParameters = []string{
	"_type",
	"_path",
	"_times",
	"_gasPrice",
	"_minConfirmations",
}

var reservedSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(ReservedParameters))
	for _, name := range ReservedParameters {
		set[name] = struct{}{}
	}
	return set
}()

// IsReservedParameter reports whether name is a reserved parameter.
func IsReservedParameter(name string) bool {
	_, ok := reservedSet[name]
	return ok
}

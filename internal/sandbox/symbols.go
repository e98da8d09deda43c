package sandbox

import (
	"reflect"

	"autotool/internal/capkit"

	"github.com/traefik/yaegi/interp"
)

// capkitSymbols exposes package capkit to interpreted code under
// capkit.ImportPath.
var capkitSymbols = interp.Exports{
	capkit.ImportPath + "/capkit": {
		"Env":                  reflect.ValueOf((*capkit.Env)(nil)),
		"API":                  reflect.ValueOf((*capkit.API)(nil)),
		"T":                    reflect.ValueOf((*capkit.T)(nil)),
		"AssertionError":       reflect.ValueOf((*capkit.AssertionError)(nil)),
		"ErrUnknownCapability": reflect.ValueOf(&capkit.ErrUnknownCapability).Elem(),
	},
}

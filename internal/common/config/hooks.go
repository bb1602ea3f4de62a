package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// EnumHookFunc decodes strings into the string-based type T, accepting only the allowed values.
// Matching is case insensitive and the canonical spelling is returned.
func EnumHookFunc[T ~string](allowed ...T) mapstructure.DecodeHookFuncType {
	var zero T
	target := reflect.TypeOf(zero)
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != target {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		for _, a := range allowed {
			if strings.EqualFold(string(a), raw) {
				return a, nil
			}
		}
		return nil, fmt.Errorf("invalid %s %q, must be one of %v", target.Name(), raw, allowed)
	}
}

package vault

import "regexp"

// placeholderPattern finds placeholders in free text. It matches the
// default VAL_ prefix only, whatever template the vault was built with.
var placeholderPattern = regexp.MustCompile(`VAL_[a-zA-Z0-9]+`)

// RehydrateValue returns the original for a known placeholder and s
// unchanged otherwise.
func (v *Vault) RehydrateValue(s string) string {
	if orig, ok := v.Restore(s); ok {
		return orig
	}
	return s
}

// RehydrateStructured walks maps and slices, replacing string leaves that
// are known placeholders. The result mirrors the input shape; keys and
// non-string scalars are left as they are. The input is not modified.
func (v *Vault) RehydrateStructured(data any) any {
	switch val := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = v.RehydrateStructured(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = v.RehydrateStructured(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = v.RehydrateValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = v.RehydrateValue(item)
		}
		return out
	case string:
		return v.RehydrateValue(val)
	default:
		return data
	}
}

// RehydrateText replaces every known placeholder occurring in s. Unknown
// placeholders stay in place.
func (v *Vault) RehydrateText(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, v.RehydrateValue)
}

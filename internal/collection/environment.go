package collection

// Environment is a Postman environment export.
type Environment struct {
	ID     string     `json:"id,omitempty"`
	Name   string     `json:"name"`
	Values []EnvValue `json:"values"`
	Scope  string     `json:"_postman_variable_scope,omitempty"`
}

// EnvValue is one environment binding. Enabled defaults to true when the
// field is absent.
type EnvValue struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Type    string `json:"type,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports whether the value participates in resolution.
func (v EnvValue) IsEnabled() bool {
	return v.Enabled == nil || *v.Enabled
}

// Map returns the enabled bindings as strings.
func (e *Environment) Map() map[string]string {
	out := map[string]string{}
	if e == nil {
		return out
	}
	for _, v := range e.Values {
		if !v.IsEnabled() || v.Key == "" {
			continue
		}
		out[v.Key] = stringify(v.Value)
	}
	return out
}

// Set updates or appends an enabled binding.
func (e *Environment) Set(key, value string) {
	enabled := true
	for i := range e.Values {
		if e.Values[i].Key == key {
			e.Values[i].Value = value
			e.Values[i].Enabled = &enabled
			return
		}
	}
	e.Values = append(e.Values, EnvValue{Key: key, Value: value, Type: "default", Enabled: &enabled})
}

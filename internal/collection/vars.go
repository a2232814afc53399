package collection

import (
	"maps"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VarPattern matches {{var}} placeholders.
var VarPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Scope resolves variables across the Postman scopes. Lookup order is
// local, item, environment, collection, globals; the first scope holding the
// key wins. Item holds the folder and request variables of the item being
// run and is replaced per item; Local holds pm.variables for the whole run.
type Scope struct {
	Globals     map[string]string
	Collection  map[string]string
	Environment map[string]string
	Item        map[string]string
	Local       map[string]string

	now func() time.Time
}

// NewScope builds a scope from collection variables and environment values.
// The input maps are copied.
func NewScope(collectionVars []Variable, env map[string]string) *Scope {
	s := &Scope{
		Globals:     map[string]string{},
		Collection:  map[string]string{},
		Environment: map[string]string{},
		Item:        map[string]string{},
		Local:       map[string]string{},
		now:         time.Now,
	}
	for _, v := range collectionVars {
		if v.Disabled || v.Key == "" {
			continue
		}
		s.Collection[v.Key] = v.StringValue()
	}
	maps.Copy(s.Environment, env)
	return s
}

// SetItem replaces the item layer with vars. Passing nil clears it.
func (s *Scope) SetItem(vars []Variable) {
	s.Item = map[string]string{}
	for _, v := range vars {
		if v.Disabled || v.Key == "" {
			continue
		}
		s.Item[v.Key] = v.StringValue()
	}
}

// Layers returns the scope maps from lowest to highest precedence.
func (s *Scope) Layers() []map[string]string {
	return []map[string]string{s.Globals, s.Collection, s.Environment, s.Item, s.Local}
}

// Get resolves key through the scope chain.
func (s *Scope) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	layers := s.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		if v, ok := layers[i][key]; ok {
			return v, true
		}
	}
	return "", false
}

// Replace substitutes {{var}} tokens. Unknown names are left untouched so
// callers can report them.
func (s *Scope) Replace(str string) string {
	if !strings.Contains(str, "{{") {
		return str
	}
	return VarPattern.ReplaceAllStringFunc(str, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if strings.HasPrefix(name, "$") {
			if v, ok := s.dynamic(name); ok {
				return v
			}
			return match
		}
		if v, ok := s.Get(name); ok {
			return v
		}
		return match
	})
}

// Unresolved lists placeholder names remaining in str.
func Unresolved(str string) []string {
	var names []string
	for _, m := range VarPattern.FindAllStringSubmatch(str, -1) {
		if len(m) > 1 {
			names = append(names, strings.TrimSpace(m[1]))
		}
	}
	return names
}

func (s *Scope) dynamic(name string) (string, bool) {
	now := time.Now
	if s != nil && s.now != nil {
		now = s.now
	}
	switch name {
	case "$guid", "$randomUUID":
		return uuid.NewString(), true
	case "$timestamp":
		return strconv.FormatInt(now().Unix(), 10), true
	case "$isoTimestamp":
		return now().UTC().Format("2006-01-02T15:04:05.000Z"), true
	case "$randomInt":
		return strconv.Itoa(rand.IntN(1001)), true
	}
	return "", false
}

package collection

import (
	"errors"
	"fmt"
)

// ErrFolderNotFound is returned by Select when no folder or request matches.
var ErrFolderNotFound = errors.New("folder not found")

// RunnableItem is a request item together with everything it inherits from
// its ancestors. Events are ordered outermost first (collection, folders,
// item), which is the order scripts execute in.
type RunnableItem struct {
	Item
	Path      []string
	Events    []Event
	Variables []Variable
	Auth      *Auth
}

// ScriptsFor returns the inherited scripts for a listen phase.
func (r RunnableItem) ScriptsFor(listen string) []Script {
	var out []Script
	for _, ev := range r.Events {
		if ev.Disabled || ev.Listen != listen {
			continue
		}
		if len(ev.Script.Exec) == 0 {
			continue
		}
		out = append(out, ev.Script)
	}
	return out
}

// Select flattens the collection depth-first into runnable items. When
// folder is non-empty the walk is restricted to the first folder or request
// whose name or id equals it.
func (c *Collection) Select(folder string) ([]RunnableItem, error) {
	if c == nil {
		return nil, errors.New("nil collection")
	}
	root := inherited{events: c.Events, auth: c.Auth}
	if folder == "" {
		return flatten(c.Items, nil, root), nil
	}
	path, found, parent, ok := findItem(c.Items, folder, nil, root)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFolderNotFound, folder)
	}
	return flatten([]Item{found}, path, parent), nil
}

type inherited struct {
	events    []Event
	variables []Variable
	auth      *Auth
}

func (in inherited) enter(it Item) inherited {
	next := inherited{
		events:    append(append([]Event{}, in.events...), it.Events...),
		variables: append(append([]Variable{}, in.variables...), it.Variables...),
		auth:      in.auth,
	}
	if it.Auth != nil && it.Auth.Type != "inherit" {
		next.auth = it.Auth
	}
	return next
}

func flatten(items []Item, path []string, parent inherited) []RunnableItem {
	var out []RunnableItem
	for _, it := range items {
		scope := parent.enter(it)
		if it.IsFolder() {
			sub := append(append([]string{}, path...), it.Name)
			out = append(out, flatten(it.Items, sub, scope)...)
			continue
		}
		auth := scope.auth
		if it.Request.Auth != nil && it.Request.Auth.Type != "inherit" {
			auth = it.Request.Auth
		}
		out = append(out, RunnableItem{
			Item:      it,
			Path:      append([]string{}, path...),
			Events:    scope.events,
			Variables: scope.variables,
			Auth:      auth,
		})
	}
	return out
}

// findItem returns the matching item, its ancestor path and the scope
// inherited from its ancestors (excluding the item itself).
func findItem(items []Item, name string, path []string, parent inherited) ([]string, Item, inherited, bool) {
	for _, it := range items {
		if it.Name == name || (it.ID != "" && it.ID == name) {
			return append([]string{}, path...), it, parent, true
		}
		if it.IsFolder() {
			sub := append(append([]string{}, path...), it.Name)
			if p, found, scope, ok := findItem(it.Items, name, sub, parent.enter(it)); ok {
				return p, found, scope, true
			}
		}
	}
	return nil, Item{}, inherited{}, false
}

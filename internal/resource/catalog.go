// Package resource maps local aliases to resource instances on the gateway.
package resource

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/appgate/internal/config"
	"github.com/pitabwire/appgate/invoker"
	"github.com/pitabwire/appgate/model"
)

// ErrUnknownResource is returned for an alias with no binding.
var ErrUnknownResource = errors.New("resource: unknown alias")

// Binding ties an alias to one gateway resource and its family.
type Binding struct {
	Alias         string             `json:"alias"`
	ApplicationID string             `json:"applicationId"`
	ResourceID    string             `json:"resourceId"`
	Kind          model.ResourceKind `json:"kind"`
	Description   string             `json:"description,omitempty"`
}

// Target addresses the bound resource with the given invocation key.
func (b Binding) Target(invocationKey string) invoker.Target {
	return invoker.Target{
		ApplicationID: b.ApplicationID,
		ResourceID:    b.ResourceID,
		InvocationKey: invocationKey,
	}
}

// KindMismatchError reports a payload sent to a resource of another family.
type KindMismatchError struct {
	Alias string
	Want  model.ResourceKind
	Got   model.ResourceKind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("resource: %q expects %s payloads, got %s", e.Alias, e.Want, e.Got)
}

// Catalog stores resource bindings by alias. It is safe for concurrent use
// after initial registration.
type Catalog struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{bindings: make(map[string]Binding)}
}

// FromConfig builds a catalog from the resources section of the
// configuration.
func FromConfig(resources map[string]config.ResourceConfig) (*Catalog, error) {
	c := NewCatalog()
	for alias, rc := range resources {
		kind, err := rc.Kind()
		if err != nil {
			return nil, fmt.Errorf("resource: %s: %w", alias, err)
		}
		c.Register(alias, Binding{
			ApplicationID: rc.ApplicationID,
			ResourceID:    rc.ResourceID,
			Kind:          kind,
			Description:   rc.Description,
		})
	}
	return c, nil
}

// Register adds a binding under alias. It panics if the alias is already
// registered.
func (c *Catalog) Register(alias string, b Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.bindings[alias]; exists {
		panic(fmt.Sprintf("resource: alias %q already registered", alias))
	}
	b.Alias = alias
	c.bindings[alias] = b
}

// Lookup returns the binding for alias, or false if not found.
func (c *Catalog) Lookup(alias string) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[alias]
	return b, ok
}

// Bind resolves alias and checks that payload belongs to the bound family.
func (c *Catalog) Bind(alias string, payload model.InvokePayload) (Binding, error) {
	b, ok := c.Lookup(alias)
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", ErrUnknownResource, alias)
	}
	if payload == nil {
		return Binding{}, fmt.Errorf("%w: payload is required", model.ErrInvalidPayload)
	}
	if got := payload.Kind(); got != b.Kind {
		return Binding{}, &KindMismatchError{Alias: alias, Want: b.Kind, Got: got}
	}
	return b, nil
}

// Names returns all aliases, sorted alphabetically.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.bindings))
	for name := range c.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all bindings ordered by alias.
func (c *Catalog) List() []Binding {
	names := c.Names()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Binding, 0, len(names))
	for _, name := range names {
		if b, ok := c.bindings[name]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of bindings.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bindings)
}

// CountByKind returns the number of bindings per family. Every family is
// present, possibly with zero.
func (c *Catalog) CountByKind() map[model.ResourceKind]int {
	counts := make(map[model.ResourceKind]int, len(model.ResourceKinds()))
	for _, k := range model.ResourceKinds() {
		counts[k] = 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.bindings {
		counts[b.Kind]++
	}
	return counts
}

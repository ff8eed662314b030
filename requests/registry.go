/*
registry.go - Request type registration and lookup

PURPOSE:
  Request types are an open set: the built-ins below always exist and
  administrators can add labeled types at runtime. The admission logic only
  ever special-cases day_off; every other type is treated the same.

CACHING:
  Labels are read on almost every listing, so the registry keeps them in
  memory. The cache is owned by the registry instance (not a package global)
  and is dropped explicitly by Invalidate, which Register calls after a
  successful write.
*/
package requests

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// TypeInfo describes a request type and its display label.
type TypeInfo struct {
	Code      RequestType `json:"code"`
	Label     string      `json:"label"`
	BuiltIn   bool        `json:"built_in"`
	CreatedAt time.Time   `json:"created_at"`
}

// BuiltinTypes always exist, whether or not the store knows them.
var BuiltinTypes = []TypeInfo{
	{Code: TypeDayOff, Label: "Day Off", BuiltIn: true},
	{Code: TypeShiftChange, Label: "Shift Change", BuiltIn: true},
	{Code: TypeOther, Label: "Other", BuiltIn: true},
}

// FallbackLabel is shown for codes that are not registered.
const FallbackLabel = "Other"

var typeCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,39}$`)

// TypeRegistry resolves request types against built-ins and the TypeStore.
type TypeRegistry struct {
	store TypeStore
	now   func() time.Time

	mu     sync.RWMutex
	loaded bool
	types  map[RequestType]TypeInfo
}

func NewTypeRegistry(store TypeStore) *TypeRegistry {
	return &TypeRegistry{store: store, now: time.Now}
}

// Lookup returns the type for code.
func (tr *TypeRegistry) Lookup(ctx context.Context, code RequestType) (TypeInfo, bool, error) {
	types, err := tr.load(ctx)
	if err != nil {
		return TypeInfo{}, false, err
	}
	info, ok := types[code]
	return info, ok, nil
}

// Label returns the display label, or FallbackLabel for unknown codes or
// when the store cannot be read.
func (tr *TypeRegistry) Label(ctx context.Context, code RequestType) string {
	info, ok, err := tr.Lookup(ctx, code)
	if err != nil || !ok {
		return FallbackLabel
	}
	return info.Label
}

// List returns all types, built-ins first, then by code.
func (tr *TypeRegistry) List(ctx context.Context) ([]TypeInfo, error) {
	types, err := tr.load(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]TypeInfo, 0, len(types))
	for _, info := range types {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].BuiltIn != result[j].BuiltIn {
			return result[i].BuiltIn
		}
		return result[i].Code < result[j].Code
	})
	return result, nil
}

// Register adds an administrator-defined type and drops the cache.
func (tr *TypeRegistry) Register(ctx context.Context, code RequestType, label string) (TypeInfo, error) {
	if !typeCodePattern.MatchString(string(code)) {
		return TypeInfo{}, fmt.Errorf("%w: type code %q must be lowercase letters, digits or underscores", ErrInvalidRequest, code)
	}
	if label == "" {
		return TypeInfo{}, fmt.Errorf("%w: type label required", ErrInvalidRequest)
	}
	for _, b := range BuiltinTypes {
		if b.Code == code {
			return TypeInfo{}, fmt.Errorf("%w: %s is a built-in type", ErrInvalidRequest, code)
		}
	}

	info := TypeInfo{Code: code, Label: label, CreatedAt: tr.now().UTC()}
	if err := tr.store.SaveType(ctx, info); err != nil {
		return TypeInfo{}, fmt.Errorf("failed to save request type: %w", err)
	}
	tr.Invalidate()
	return info, nil
}

// Invalidate drops the cached types; the next read reloads from the store.
func (tr *TypeRegistry) Invalidate() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.loaded = false
	tr.types = nil
}

func (tr *TypeRegistry) load(ctx context.Context) (map[RequestType]TypeInfo, error) {
	tr.mu.RLock()
	if tr.loaded {
		types := tr.types
		tr.mu.RUnlock()
		return types, nil
	}
	tr.mu.RUnlock()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.loaded {
		return tr.types, nil
	}

	stored, err := tr.store.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load request types: %w", err)
	}

	types := make(map[RequestType]TypeInfo, len(BuiltinTypes)+len(stored))
	for _, info := range stored {
		types[info.Code] = info
	}
	// Built-ins win over any stored row with the same code.
	for _, info := range BuiltinTypes {
		types[info.Code] = info
	}

	tr.types = types
	tr.loaded = true
	return types, nil
}

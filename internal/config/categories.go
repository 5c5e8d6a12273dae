package config

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds the configured main categories and their subcategories.
// It is safe for concurrent use; updates are pure key-value edits.
type Registry struct {
	mu         sync.RWMutex
	categories map[string][]string
	path       string
}

// DefaultCategories mirrors the registry the scraper ships with.
func DefaultCategories() map[string][]string {
	return map[string][]string{
		"necklace":   {"Choker", "Pendant", "Chain"},
		"pendant":    {"Heart", "Cross", "Star"},
		"bracelet":   {"Tennis", "Charm", "Bangle"},
		"ring":       {"Engagement", "Wedding", "Fashion"},
		"earring":    {"Stud", "Hoop", "Drop"},
		"wristwatch": {"Analog", "Digital", "Smart"},
	}
}

// LoadRegistry reads the category registry from a YAML file. A missing file
// is not an error; the defaults are used and later saved back to the same
// path on the first update.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		categories: DefaultCategories(),
		path:       path,
	}

	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read category registry: %w", err)
	}

	var categories map[string][]string
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("failed to parse category registry: %w", err)
	}

	if len(categories) > 0 {
		r.categories = categories
	}

	return r, nil
}

// Categories returns a copy of the registry contents.
func (r *Registry) Categories() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.categories))
	for main, subs := range r.categories {
		out[main] = append([]string(nil), subs...)
	}
	return out
}

// MainCategories returns the sorted main category names.
func (r *Registry) MainCategories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.categories))
	for main := range r.categories {
		names = append(names, main)
	}
	sort.Strings(names)
	return names
}

// Subcategories returns the subcategory list for a main category.
func (r *Registry) Subcategories(main string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.categories[main]
	if !ok {
		return nil, false
	}
	return append([]string(nil), subs...), true
}

// Contains reports whether the (main, sub) pair is registered.
func (r *Registry) Contains(main, sub string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.categories[main]
	if !ok {
		return false
	}
	for _, s := range subs {
		if s == sub {
			return true
		}
	}
	return false
}

// Update replaces the subcategory list for a main category, creating the
// category when it does not exist, and persists the registry when a file
// path was configured.
func (r *Registry) Update(main string, subcategories []string) error {
	if main == "" {
		return fmt.Errorf("main category name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.categories[main] = append([]string(nil), subcategories...)
	return r.save()
}

// Remove deletes a main category and persists the registry.
func (r *Registry) Remove(main string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.categories, main)
	return r.save()
}

func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}

	data, err := yaml.Marshal(r.categories)
	if err != nil {
		return fmt.Errorf("failed to marshal category registry: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := r.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write category registry: %w", err)
	}

	return os.Rename(tmpFile, r.path)
}

package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Item is one purchasable catalog entry. Items are immutable for the
// process lifetime.
type Item struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Brand string  `json:"brand"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
}

// Document is the on-disk catalog shape.
type Document struct {
	StoreName  string              `json:"store_name"`
	Categories []string            `json:"categories"`
	Items      []Item              `json:"items"`
	Recipes    map[string][]string `json:"recipes"`
}

type recipe struct {
	name    string
	itemIDs []string
}

// Index is a read-only lookup table over items and recipes. It is safe to
// share across sessions without locking.
type Index struct {
	storeName  string
	categories []string
	items      []Item
	byID       map[string]Item
	recipes    []recipe
}

// Load reads the catalog document at path. A missing file yields an empty
// index, not an error: the session degrades to "no items found".
func Load(path string, log *slog.Logger) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("catalog file not found, starting with empty catalog", slog.String("path", path))
			return New(Document{}), nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	ix := New(doc)
	log.Info("catalog loaded",
		slog.String("store", ix.storeName),
		slog.Int("items", len(ix.items)),
		slog.Int("recipes", len(ix.recipes)))
	return ix, nil
}

// New builds an index from an in-memory document. Recipes are ordered by
// name so substring ties resolve deterministically.
func New(doc Document) *Index {
	ix := &Index{
		storeName:  doc.StoreName,
		categories: append([]string(nil), doc.Categories...),
		items:      append([]Item(nil), doc.Items...),
		byID:       make(map[string]Item, len(doc.Items)),
	}
	for _, item := range ix.items {
		ix.byID[item.ID] = item
	}
	for name, ids := range doc.Recipes {
		ix.recipes = append(ix.recipes, recipe{name: name, itemIDs: append([]string(nil), ids...)})
	}
	sort.Slice(ix.recipes, func(i, j int) bool { return ix.recipes[i].name < ix.recipes[j].name })
	return ix
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FindByName resolves a spoken item name: exact match first, then a
// substring match in either direction. First inserted wins on ties.
func (ix *Index) FindByName(query string) (Item, bool) {
	q := normalize(query)
	if q == "" {
		return Item{}, false
	}
	for _, item := range ix.items {
		if normalize(item.Name) == q {
			return item, true
		}
	}
	for _, item := range ix.items {
		name := normalize(item.Name)
		if strings.Contains(name, q) || strings.Contains(q, name) {
			return item, true
		}
	}
	return Item{}, false
}

func (ix *Index) FindByID(id string) (Item, bool) {
	item, ok := ix.byID[id]
	return item, ok
}

// FindRecipe resolves a recipe name with the same two-tier policy as items.
func (ix *Index) FindRecipe(name string) ([]string, bool) {
	q := normalize(name)
	if q == "" {
		return nil, false
	}
	for _, r := range ix.recipes {
		if normalize(r.name) == q {
			return append([]string(nil), r.itemIDs...), true
		}
	}
	for _, r := range ix.recipes {
		rn := normalize(r.name)
		if strings.Contains(rn, q) || strings.Contains(q, rn) {
			return append([]string(nil), r.itemIDs...), true
		}
	}
	return nil, false
}

func (ix *Index) StoreName() string {
	return ix.storeName
}

func (ix *Index) Categories() []string {
	return append([]string(nil), ix.categories...)
}

func (ix *Index) Len() int {
	return len(ix.items)
}

// Suggestions returns up to n item names, used when a lookup misses.
func (ix *Index) Suggestions(n int) []string {
	if n > len(ix.items) {
		n = len(ix.items)
	}
	names := make([]string, 0, n)
	for _, item := range ix.items[:n] {
		names = append(names, item.Name)
	}
	return names
}

// RecipeNames lists known recipes, used when a recipe lookup misses.
func (ix *Index) RecipeNames() []string {
	names := make([]string, 0, len(ix.recipes))
	for _, r := range ix.recipes {
		names = append(names, r.name)
	}
	return names
}

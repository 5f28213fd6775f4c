// Package catalog holds the read-only product table the cart prices against.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrNotFound is returned when a product id has no catalog entry.
var ErrNotFound = errors.New("catalog: product not found")

// Entry is the on-disk shape of one products.json value.
type Entry struct {
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// Product is a resolved catalog row.
type Product struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// Catalog maps product ids to price and description. It is immutable after construction.
type Catalog struct {
	products map[string]Product
	names    []string
}

// New builds a catalog from products.json entries.
func New(entries map[string]Entry) *Catalog {
	c := &Catalog{
		products: make(map[string]Product, len(entries)),
		names:    make([]string, 0, len(entries)),
	}
	for name, e := range entries {
		c.products[name] = Product{Name: name, Price: e.Price, Description: e.Description}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// Load reads a products.json file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a products.json document.
func Parse(r io.Reader) (*Catalog, error) {
	var entries map[string]Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	for name, e := range entries {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("empty product name")
		}
		if e.Price < 0 {
			return nil, fmt.Errorf("product %q has negative price", name)
		}
	}
	return New(entries), nil
}

// Lookup returns the product for id.
func (c *Catalog) Lookup(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// Get is Lookup with an error for missing ids.
func (c *Catalog) Get(id string) (Product, error) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// Contains reports whether id is a catalog key.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.products[id]
	return ok
}

// Names returns every product id in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	return len(c.products)
}

// Search returns products whose name contains query, case-insensitively.
// An empty query matches nothing.
func (c *Catalog) Search(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []Product{}
	}
	out := []Product{}
	for _, name := range c.names {
		if strings.Contains(strings.ToLower(name), q) {
			out = append(out, c.products[name])
		}
	}
	return out
}

// Entries returns the table in products.json form.
func (c *Catalog) Entries() map[string]Entry {
	out := make(map[string]Entry, len(c.products))
	for name, p := range c.products {
		out[name] = Entry{Price: p.Price, Description: p.Description}
	}
	return out
}

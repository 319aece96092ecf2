// Package catalog holds the cookie category catalog and the static list of
// declared (known) cookies used to classify what a scan discovers.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/kiranshivaraju/cookiehunter/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const matchPrefix = "prefix"

// KnownCookie is a declared cookie. With Match "prefix" the Name matches any
// cookie whose name starts with it (e.g. "_ga_" for "_ga_XYZ123").
type KnownCookie struct {
	models.RawCookie `yaml:",inline"`
	Match            string `yaml:"match"`
}

type file struct {
	Categories []models.Category `yaml:"categories"`
	Cookies    []KnownCookie     `yaml:"cookies"`
}

// Catalog is an immutable, concurrency-safe view of categories and declared cookies.
type Catalog struct {
	categories []models.Category
	byName     map[string]models.Category
	exact      map[string]KnownCookie
	prefixes   []KnownCookie
	declared   []KnownCookie
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Parse decodes a YAML catalog and validates it.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		byName: make(map[string]models.Category, len(f.Categories)),
		exact:  make(map[string]KnownCookie, len(f.Cookies)),
	}

	for _, cat := range f.Categories {
		cat.Name = strings.TrimSpace(cat.Name)
		if cat.Name == "" {
			return nil, fmt.Errorf("parse catalog: category name is required")
		}
		if _, dup := c.byName[cat.Name]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate category %q", cat.Name)
		}
		if cat.Slug == "" {
			cat.Slug = strings.ToLower(strings.ReplaceAll(cat.Name, " ", "-"))
		}
		cat.Description = strings.TrimSpace(cat.Description)
		c.byName[cat.Name] = cat
		c.categories = append(c.categories, cat)
	}

	for _, kc := range f.Cookies {
		raw, err := models.NewRawCookie(kc.RawCookie)
		if err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		kc.RawCookie = raw
		if _, ok := c.byName[kc.Category]; !ok {
			return nil, fmt.Errorf("parse catalog: cookie %q references unknown category %q", kc.Name, kc.Category)
		}
		switch kc.Match {
		case "", "exact":
			c.exact[kc.Name] = kc
		case matchPrefix:
			c.prefixes = append(c.prefixes, kc)
		default:
			return nil, fmt.Errorf("parse catalog: cookie %q has unknown match %q", kc.Name, kc.Match)
		}
		c.declared = append(c.declared, kc)
	}

	return c, nil
}

// Categories returns the categories in catalog order.
func (c *Catalog) Categories() []models.Category {
	out := make([]models.Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Category looks up a category by exact name.
func (c *Catalog) Category(name string) (models.Category, bool) {
	cat, ok := c.byName[name]
	return cat, ok
}

// Classify returns the declared cookie matching name. Exact names win over
// prefixes; among prefixes the longest match wins.
func (c *Catalog) Classify(name string) (KnownCookie, bool) {
	if kc, ok := c.exact[name]; ok {
		return kc, true
	}
	var best KnownCookie
	found := false
	for _, kc := range c.prefixes {
		if strings.HasPrefix(name, kc.Name) && len(kc.Name) > len(best.Name) {
			best = kc
			found = true
		}
	}
	return best, found
}

// DeclaredCookies returns the exact-name declared cookies as merge candidates.
// Prefix declarations describe families of cookies, not concrete names, so
// they are not listed.
func (c *Catalog) DeclaredCookies() []models.RawCookie {
	out := make([]models.RawCookie, 0, len(c.exact))
	for _, kc := range c.declared {
		if kc.Match == matchPrefix {
			continue
		}
		out = append(out, kc.RawCookie)
	}
	return out
}

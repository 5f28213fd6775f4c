package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
	"Maggi Noodles": {"price": 14, "description": "Maggi Noodles - 70g pack"},
	"Lux": {"price": 35, "description": "Lux - 100g pack"},
	"Surf Excel": {"price": 140, "description": "Surf Excel - 1kg pack"}
}`

func TestParseAndLookup(t *testing.T) {
	c, err := Parse(strings.NewReader(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"Lux", "Maggi Noodles", "Surf Excel"}, c.Names())

	p, ok := c.Lookup("Maggi Noodles")
	require.True(t, ok)
	assert.Equal(t, Product{Name: "Maggi Noodles", Price: 14, Description: "Maggi Noodles - 70g pack"}, p)

	_, ok = c.Lookup("maggi noodles")
	assert.False(t, ok, "lookup is exact")

	_, err = c.Get("Pears Soap")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse(strings.NewReader(`{"Lux": {"price": -1}}`))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`[1,2,3]`))
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	c, err := Parse(strings.NewReader(sampleJSON))
	require.NoError(t, err)

	got := c.Search("  EXC ")
	require.Len(t, got, 1)
	assert.Equal(t, "Surf Excel", got[0].Name)

	assert.Len(t, c.Search("u"), 2)
	assert.Empty(t, c.Search(""))
	assert.NotNil(t, c.Search("zzz"))
}

func TestLoadShippedCatalog(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "products.json"))
	require.NoError(t, err)
	assert.Equal(t, 37, c.Len())
	assert.True(t, c.Contains("Head & Shoulders Shampoo"))
}

func TestFromClassNames(t *testing.T) {
	entries, skipped := FromClassNames([]string{
		"maggi_70g_14rs_front",
		"maggi_70g_14rs_back",
		"amul_darkchocolate_150g_110rs_side",
		"products",
		"tata_salt_1kg",
	})

	require.Len(t, skipped, 2)
	assert.Contains(t, skipped[0].Error(), "products")
	assert.Contains(t, skipped[1].Error(), "price")

	assert.Equal(t, map[string]Entry{
		"Maggi":              {Price: 14, Description: "Maggi - 70g pack"},
		"Amul Darkchocolate": {Price: 110, Description: "Amul Darkchocolate - 150g pack"},
	}, entries)
}

func TestLoadClassNamesListAndMap(t *testing.T) {
	dir := t.TempDir()

	listPath := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(listPath, []byte("nc: 2\nnames: [lux_100g_35rs_front, pears_75g_45rs_back]\n"), 0o600))
	names, err := LoadClassNames(listPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"lux_100g_35rs_front", "pears_75g_45rs_back"}, names)

	mapPath := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(mapPath, []byte("names:\n  1: pears_75g_45rs_back\n  0: lux_100g_35rs_front\n"), 0o600))
	names, err = LoadClassNames(mapPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"lux_100g_35rs_front", "pears_75g_45rs_back"}, names)

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("nc: 2\n"), 0o600))
	_, err = LoadClassNames(badPath)
	assert.Error(t, err)
}

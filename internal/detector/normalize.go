package detector

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Raw class names look like maggi_70g_14rs_front. Everything from the first
// view, weight or price tag onwards is dropped before alias matching.
var suffixPattern = regexp.MustCompile(`(_back|_front|_side|_cross|_[\d.]+[gmlk]+|_\d+rs).*`)

// ignoredLabels are model classes that never name a product.
var ignoredLabels = map[string]bool{
	"products": true,
}

// DefaultAliases maps normalized class prefixes to catalog product ids.
var DefaultAliases = map[string]string{
	"amul_darkchocolate":         "Amul Darkchocolate",
	"balaji_aloo_sev":            "Balaji Aloo Sev",
	"balaji_ratlami_sev":         "Balaji Ratlami Sev",
	"balaji_wafers_chaatchaska":  "Balaji Wafers Chaat Chaska",
	"balaji_wafers_masalamasti":  "Balaji Wafers Masala Masti",
	"balaji_wafers_simplysalted": "Balaji Wafers Simply Salted",
	"balaji_wafers_tomatotwist":  "Balaji Wafers Tomato Twist",
	"britannia_marie_gold":       "Britannia Marie Gold",
	"cadbury_celebrations":       "Cadbury Celebrations",
	"closeup":                    "Closeup",
	"colgate_strong_teeth":       "Colgate Strong Teeth",
	"dark_fantasy_choco_fills":   "Dark Fantasy Choco Fills",
	"dove_shampoo":               "Dove Shampoo",
	"dove_soap":                  "Dove Soap",
	"everest_chaat_masala":       "Everest Chaat Masala",
	"everest_garam_masala":       "Everest Garam Masala",
	"head_and_shoulders":         "Head & Shoulders Shampoo",
	"krack_jack":                 "Krack Jack",
	"lakme_peach_moisturiser":    "Lakme Peach Moisturiser",
	"lifebuoy":                   "Lifebuoy",
	"liril_bodywash":             "Liril Bodywash",
	"lux":                        "Lux",
	"maggi":                      "Maggi Noodles",
	"nescafe_coffee":             "Nescafe Coffee",
	"patanjali_aloevera_gel":     "Patanjali Aloevera Gel",
	"pears":                      "Pears Soap",
	"real_grape_juice":           "Real Grape Fruit Juice",
	"rin_soap":                   "Rin Soap",
	"shreeji_dabeli_masala":      "Shreeji Dabeli Masala",
	"shreeji_undhiyu_masala":     "Shreeji Undhiyu Masala",
	"surf_excel":                 "Surf Excel",
	"tata_salt":                  "Tata Salt",
	"tresemme_black":             "Tresemme Black Shampoo",
	"vaseline_aloe_fresh":        "Vaseline Aloe Fresh",
	"veg_hakka_noodles":          "Veg Hakka Noodles",
	"vicco_vajradanti":           "Vicco Vajradanti",
	"vim_bar":                    "Vim Bar",
}

// Catalog is the membership check used to accept a normalized label.
type Catalog interface {
	Contains(id string) bool
}

type alias struct {
	prefix    string
	productID string
}

// Normalizer maps raw model labels to catalog product ids.
type Normalizer struct {
	aliases []alias // longest prefix first
	catalog Catalog
}

// NewNormalizer builds a normalizer over aliases. Only targets present in c are
// ever returned.
func NewNormalizer(aliases map[string]string, c Catalog) *Normalizer {
	n := &Normalizer{catalog: c, aliases: make([]alias, 0, len(aliases))}
	for prefix, id := range aliases {
		n.aliases = append(n.aliases, alias{prefix: strings.ToLower(prefix), productID: id})
	}
	sort.Slice(n.aliases, func(i, j int) bool {
		if len(n.aliases[i].prefix) != len(n.aliases[j].prefix) {
			return len(n.aliases[i].prefix) > len(n.aliases[j].prefix)
		}
		return n.aliases[i].prefix < n.aliases[j].prefix
	})
	return n
}

// StripSuffix removes view, weight and price tags from a raw label.
func StripSuffix(label string) string {
	return suffixPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "")
}

// Normalize returns the catalog product id for a raw label.
func (n *Normalizer) Normalize(label string) (string, bool) {
	if ignoredLabels[strings.ToLower(label)] {
		return "", false
	}
	base := StripSuffix(label)
	if base == "" {
		return "", false
	}
	for _, a := range n.aliases {
		if strings.HasPrefix(base, a.prefix) && n.catalog.Contains(a.productID) {
			return a.productID, true
		}
	}
	return "", false
}

// LoadAliases reads a YAML map of class prefix to product id.
func LoadAliases(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	var aliases map[string]string
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse aliases %s: %w", path, err)
	}
	if len(aliases) == 0 {
		return nil, fmt.Errorf("aliases %s: no entries", path)
	}
	return aliases, nil
}

package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	viewSuffix  = regexp.MustCompile(`_(front|back|side|cross)$`)
	weightToken = regexp.MustCompile(`^[\d.]+(g|kg|ml|l)$`)
	priceToken  = regexp.MustCompile(`^(\d+)rs$`)
)

// FromClassNames derives products.json entries from dataset class names of the
// form <name>_<weight>_<price>rs[_<view>], e.g. maggi_70g_14rs_front.
// Names that do not follow the pattern are returned as errors and skipped.
func FromClassNames(classes []string) (map[string]Entry, []error) {
	out := make(map[string]Entry)
	var skipped []error
	for _, class := range classes {
		name, entry, err := parseClassName(class)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if _, dup := out[name]; dup {
			continue
		}
		out[name] = entry
	}
	return out, skipped
}

func parseClassName(class string) (string, Entry, error) {
	clean := viewSuffix.ReplaceAllString(strings.ToLower(strings.TrimSpace(class)), "")
	parts := strings.Split(clean, "_")

	weightIdx := -1
	for i, p := range parts {
		if weightToken.MatchString(p) {
			weightIdx = i
			break
		}
	}
	if weightIdx <= 0 {
		return "", Entry{}, fmt.Errorf("class %q: no weight token", class)
	}

	var price float64
	found := false
	for _, p := range parts[weightIdx+1:] {
		if m := priceToken.FindStringSubmatch(p); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return "", Entry{}, fmt.Errorf("class %q: %w", class, err)
			}
			price = float64(n)
			found = true
			break
		}
	}
	if !found {
		return "", Entry{}, fmt.Errorf("class %q: no price token", class)
	}

	words := make([]string, 0, weightIdx)
	for _, w := range parts[:weightIdx] {
		if w != "" {
			words = append(words, capitalize(w))
		}
	}
	name := strings.Join(words, " ")
	return name, Entry{
		Price:       price,
		Description: fmt.Sprintf("%s - %s pack", name, parts[weightIdx]),
	}, nil
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}

// LoadClassNames reads the names key of a YOLO dataset YAML file. Both the list
// form and the index-to-name map form are accepted.
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class names: %w", err)
	}

	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode names list: %w", err)
		}
		return names, nil
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := doc.Names.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("decode names map: %w", err)
		}
		idx := make([]int, 0, len(byIndex))
		for i := range byIndex {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		names := make([]string, 0, len(idx))
		for _, i := range idx {
			names = append(names, byIndex[i])
		}
		return names, nil
	default:
		return nil, errors.New("names key missing or not a list/map")
	}
}

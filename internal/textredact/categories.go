package textredact

import (
	"sort"
	"strings"
)

// Category is a named-entity class.
type Category string

const (
	Person    Category = "PERSON"
	Norp      Category = "NORP"
	Facility  Category = "FAC"
	Org       Category = "ORGANIZATION"
	GPE       Category = "GPE"
	Location  Category = "LOC"
	Product   Category = "PRODUCT"
	Event     Category = "EVENT"
	WorkOfArt Category = "WORK_OF_ART"
	Law       Category = "LAW"
	Language  Category = "LANGUAGE"
	Date      Category = "DATE"
	Time      Category = "TIME"
	Percent   Category = "PERCENT"
	Money     Category = "MONEY"
	Quantity  Category = "QUANTITY"
	Ordinal   Category = "ORDINAL"
	Cardinal  Category = "CARDINAL"
)

// labelAliases maps recogniser labels onto canonical categories.
var labelAliases = map[string]Category{
	"ORG":    Org,
	"PER":    Person,
	"PERSON": Person,
}

// Normalize maps a recogniser label to its canonical Category.
func Normalize(label string) Category {
	l := strings.ToUpper(strings.TrimSpace(label))
	if c, ok := labelAliases[l]; ok {
		return c
	}
	return Category(l)
}

// Instruction keywords and the categories they select.
var (
	projectCategories = []Category{Org, WorkOfArt, Product, Event}
	personCategories  = []Category{Person}
)

// CategorySet is the resolved set of categories to redact. All selects every category,
// including labels the recogniser emits that are not listed above.
type CategorySet struct {
	All  bool
	cats map[Category]struct{}
}

// Contains reports whether label (canonical or alias) is selected.
func (s CategorySet) Contains(label string) bool {
	if s.All {
		return true
	}
	_, ok := s.cats[Normalize(label)]
	return ok
}

// Empty reports whether the set selects nothing.
func (s CategorySet) Empty() bool {
	return !s.All && len(s.cats) == 0
}

// List returns the selected categories, sorted. All returns nil.
func (s CategorySet) List() []Category {
	if s.All {
		return nil
	}
	out := make([]Category, 0, len(s.cats))
	for c := range s.cats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *CategorySet) add(cs ...Category) {
	if s.cats == nil {
		s.cats = make(map[Category]struct{})
	}
	for _, c := range cs {
		s.cats[c] = struct{}{}
	}
}

// ResolveCategories maps a free-text instruction to categories by case-insensitive substring:
// "project" adds organisations, works of art, products and events; "person" adds people;
// "everything" selects all categories. The checks are additive.
func ResolveCategories(instruction string) CategorySet {
	in := strings.ToLower(instruction)
	var set CategorySet
	if strings.Contains(in, "project") {
		set.add(projectCategories...)
	}
	if strings.Contains(in, "person") {
		set.add(personCategories...)
	}
	if strings.Contains(in, "everything") {
		set.All = true
	}
	return set
}

package spor

// Cache memoizes lookup results for the lifetime of one run. Negative
// results are cached too, so a name the registry does not know is asked
// once, not once per row.
//
// The cache is created per run and passed in explicitly; the client itself
// holds no lookup state across runs.
type Cache struct {
	organisations map[string]*Organisation
	substances    map[string]*Substance
}

// NewCache creates an empty run-scoped cache.
func NewCache() *Cache {
	return &Cache{
		organisations: make(map[string]*Organisation),
		substances:    make(map[string]*Substance),
	}
}

func (c *Cache) organisation(name string) (*Organisation, bool) {
	org, ok := c.organisations[name]

	return org, ok
}

func (c *Cache) putOrganisation(name string, org *Organisation) {
	c.organisations[name] = org
}

func (c *Cache) substance(name string) (*Substance, bool) {
	sub, ok := c.substances[name]

	return sub, ok
}

func (c *Cache) putSubstance(name string, sub *Substance) {
	c.substances[name] = sub
}

// Len reports how many distinct names have been resolved, hits and misses
// both.
func (c *Cache) Len() int {
	return len(c.organisations) + len(c.substances)
}

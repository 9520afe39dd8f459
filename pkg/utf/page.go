package utf

// Page is an ordered name -> Element mapping tagged with a page name
// Key insertion order is significant: it defines the on-disk
// column order within a page table.
type Page struct {
	name   string
	keys   []string
	values map[string]Element
}

// NewPage allocates an empty page with the given page name (e.g.
// "CRIUSF_DIR_STREAM").
func NewPage(name string) *Page {
	return &Page{
		name:   name,
		values: make(map[string]Element),
	}
}

// Name returns the page's table name.
func (p *Page) Name() string { return p.name }

// Keys returns the page's column names in insertion order. The
// returned slice must not be modified.
func (p *Page) Keys() []string { return p.keys }

// Set assigns a column's value, appending it to the key order the
// first time the column is set.
func (p *Page) Set(name string, el Element) {
	if _, ok := p.values[name]; !ok {
		p.keys = append(p.keys, name)
	}
	p.values[name] = el
}

// Get returns a column's element and whether it is present.
func (p *Page) Get(name string) (Element, bool) {
	el, ok := p.values[name]
	return el, ok
}

// MustGet returns a column's element, or the zero Element if absent.
// Useful for read paths that have already validated the schema.
func (p *Page) MustGet(name string) Element {
	return p.values[name]
}

// SameSchema reports whether two pages share a name and an identical,
// identically ordered key set, the precondition the table encoder
// imposes on every page in a table.
func (p *Page) SameSchema(other *Page) bool {
	if p.name != other.name || len(p.keys) != len(other.keys) {
		return false
	}
	for i, k := range p.keys {
		if other.keys[i] != k {
			return false
		}
	}
	return true
}

// Equal reports whether two pages have the same name and the same
// key/value pairs, independent of key order. Used by the page codec's
// round-trip tests; order sensitivity belongs to SameSchema, which
// governs encodability instead.
func (p *Page) Equal(other *Page) bool {
	if p.name != other.name || len(p.keys) != len(other.keys) {
		return false
	}
	for _, k := range p.keys {
		a, ok := p.Get(k)
		if !ok {
			return false
		}
		b, ok := other.Get(k)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

package catalog

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// Kind says which tier a collected URL belongs in.
type Kind string

// URL kinds.
const (
	KindImage Kind = "image"
	KindJSON  Kind = "json"
)

// Ref is a collected prefetch target.
type Ref struct {
	URL  string
	Kind Kind
}

// Resolve makes ref absolute against scope. Unparseable input yields "".
func Resolve(scope, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if scope == "" {
		return r.String()
	}
	base, err := url.Parse(scope)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}

// CollectURLs walks every item and its children and returns the thumbnail and
// metadata references, resolved against scope and de-duplicated in first-seen
// order. Each reference is classified by extension; video URLs and references
// with no image or JSON extension are dropped.
func (c Catalog) CollectURLs(scope string) []Ref {
	col := collector{scope: scope, seen: make(map[string]struct{})}
	for _, item := range c.Items {
		col.item(item)
	}
	for _, s := range c.Loose {
		col.ref(s)
	}
	return col.refs
}

type collector struct {
	scope string
	seen  map[string]struct{}
	refs  []Ref
}

func (c *collector) item(item Item) {
	c.ref(item.Thumbnail)
	c.ref(item.Metadata)
	for _, child := range item.Children {
		c.item(child)
	}
}

// ref files raw under the tier its extension names. Anything that is neither
// an image nor a JSON document is skipped.
func (c *collector) ref(raw string) {
	switch {
	case offline.IsImageURL(raw):
		c.add(raw, KindImage)
	case offline.IsJSONURL(raw):
		c.add(raw, KindJSON)
	}
}

func (c *collector) add(ref string, kind Kind) {
	abs := Resolve(c.scope, ref)
	if abs == "" || offline.IsVideoURL(abs) {
		return
	}
	if _, dup := c.seen[abs]; dup {
		return
	}
	c.seen[abs] = struct{}{}
	c.refs = append(c.refs, Ref{URL: abs, Kind: kind})
}

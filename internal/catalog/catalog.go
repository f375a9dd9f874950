// Package catalog normalises the content catalog document into one item shape.
//
// The catalog is produced by hand and by several generators over time, so
// the same field appears under different names (French and English, spaced
// and camel-cased) and the document itself is either a list of items or an
// object keyed by slug. Everything downstream works on Item only.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsupportedDocument is returned when the top-level JSON value is neither
// a list nor an object.
var ErrUnsupportedDocument = errors.New("catalog: unsupported document")

// Item is one normalised catalog entry. Seasons and episodes use the same
// shape and hang off Children.
type Item struct {
	Key         string `json:"key,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail_url,omitempty"`
	Category    string `json:"category,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Metadata    string `json:"metadata_url,omitempty"`
	Children    []Item `json:"children,omitempty"`
}

// Catalog is a parsed catalog document.
type Catalog struct {
	Items []Item
	// Loose holds bare string values found in an object document.
	Loose []string
}

var (
	titleKeys       = []string{"Titre", "Name", "title", "name"}
	thumbKeys       = []string{"Url Thumb", "thumb", "thumbnail", "thumbnailUrl"}
	categoryKeys    = []string{"Catégorie", "category"}
	slugKeys        = []string{"__slug", "slug"}
	descriptionKeys = []string{"description", "Description", "synopsis"}
	metadataKeys    = []string{"info", "metadataUrl"}
	seasonKeys      = []string{"Saisons", "seasons"}
	episodeKeys     = []string{"episodes", "Episodes"}
)

var whitespace = regexp.MustCompile(`\s+`)

// Parse decodes a catalog document. Object documents keep their key order.
func Parse(data []byte) (Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Catalog{}, fmt.Errorf("%w: empty", ErrUnsupportedDocument)
	}
	switch trimmed[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Catalog{}, fmt.Errorf("decode catalog list: %w", err)
		}
		var c Catalog
		for _, r := range raw {
			if fields, ok := decodeObject(r); ok {
				c.Items = append(c.Items, normalise(fields))
			}
		}
		return c, nil
	case '{':
		return parseObject(trimmed)
	default:
		return Catalog{}, fmt.Errorf("%w: top-level %q", ErrUnsupportedDocument, trimmed[0])
	}
}

func parseObject(data []byte) (Catalog, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog object: %w", err)
	}
	var c Catalog
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Catalog{}, fmt.Errorf("decode catalog key: %w", err)
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Catalog{}, fmt.Errorf("decode catalog entry %q: %w", key, err)
		}
		if fields, ok := decodeObject(raw); ok {
			item := normalise(fields)
			item.Key = key
			c.Items = append(c.Items, item)
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			c.Loose = append(c.Loose, s)
		}
	}
	return c, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func normalise(fields map[string]any) Item {
	item := Item{
		Title:     firstString(fields, titleKeys),
		Thumbnail: firstString(fields, thumbKeys),
		Category:  firstString(fields, categoryKeys),
		Slug:      firstString(fields, slugKeys),
		Metadata:  firstString(fields, metadataKeys),
	}
	// Seasons sometimes point their description at a metadata document.
	if desc := firstString(fields, descriptionKeys); strings.HasSuffix(desc, ".json") {
		if item.Metadata == "" {
			item.Metadata = desc
		}
	} else {
		item.Description = desc
	}
	for _, child := range firstList(fields, seasonKeys) {
		item.Children = append(item.Children, normalise(child))
	}
	for _, child := range firstList(fields, episodeKeys) {
		item.Children = append(item.Children, normalise(child))
	}
	return item
}

func firstString(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstList(fields map[string]any, keys []string) []map[string]any {
	for _, k := range keys {
		list, ok := fields[k].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, v := range list {
			if m, ok := v.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// Slugify lower-cases title and joins its words with hyphens.
func Slugify(title string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
}

// EffectiveSlug returns the declared slug, else one derived from the title.
func (i Item) EffectiveSlug() string {
	if i.Slug != "" {
		return i.Slug
	}
	return Slugify(i.Title)
}

// NormalisedCategory returns the lower-cased, trimmed category.
func (i Item) NormalisedCategory() string {
	return strings.ToLower(strings.TrimSpace(i.Category))
}

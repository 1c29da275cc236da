package snippet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/koios/esphome-designer/pkg/models"
	"gopkg.in/yaml.v3"
)

// block is what the structural recognition stage finds in a config
type block struct {
	hasSelect bool
	declared  []string
	routine   *lexed
}

// Parse reconstructs a device from a snippet. The snippet may be embedded
// anywhere in a larger configuration, including after other documents.
// Every failure is a *ParseError carrying one of the ErrorKind values.
func Parse(text string) (*models.Device, error) {
	docs, err := decodeDocuments(text)
	if err != nil {
		return nil, invalidYAML(err)
	}

	blk, err := locate(docs)
	if err != nil {
		return nil, err
	}
	if !blk.hasSelect && blk.routine == nil {
		return nil, unrecognized("no designer page select or display lambda found")
	}

	var branches []branch
	var outside []comment
	if blk.routine != nil {
		branches, err = blk.routine.branches()
		if err != nil {
			return nil, unrecognized("display lambda: %v", err)
		}
		outside = blk.routine.outsideComments(branches)
	}

	byID := make(map[string]*branch, len(branches))
	var order []string
	for i := range branches {
		b := &branches[i]
		if _, dup := byID[b.pageID]; dup {
			return nil, unrecognized("duplicate branch for page %q", b.pageID)
		}
		byID[b.pageID] = b
		order = append(order, b.pageID)
	}

	// The select options are authoritative when present
	pageIDs := order
	if blk.hasSelect {
		pageIDs = blk.declared
	}

	// Markers outside the branches are checked before the page count, so a
	// misplaced marker is reported as such even when no page is declared
	name, err := deviceName(outside)
	if err != nil {
		return nil, err
	}
	if len(pageIDs) == 0 {
		return nil, noPages()
	}

	seen := make(map[string]bool, len(pageIDs))
	pages := make([]models.Page, 0, len(pageIDs))
	for _, id := range pageIDs {
		if seen[id] {
			return nil, unrecognized("page %q declared twice", id)
		}
		seen[id] = true

		b, ok := byID[id]
		if !ok {
			pages = append(pages, models.Page{ID: id, Name: id, Widgets: []models.Widget{}})
			continue
		}
		page, err := decodePage(b)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	device, err := models.NewDevice(name, pages)
	if err != nil {
		return nil, unrecognized("%v", err)
	}
	return device, nil
}

func decodeDocuments(text string) ([]*yaml.Node, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))
	var docs []*yaml.Node
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
}

// locate finds the declarative page list and the rendering routine among the
// top-level "select" and "display" entries. Keys may repeat when the snippet
// was pasted below a config that already declares them, so every occurrence
// is searched.
func locate(docs []*yaml.Node) (*block, error) {
	blk := &block{}
	for _, doc := range docs {
		root := doc
		if root.Kind == yaml.DocumentNode {
			if len(root.Content) == 0 {
				continue
			}
			root = resolve(root.Content[0])
		}
		if root == nil || root.Kind != yaml.MappingNode {
			continue
		}

		for i := 0; i+1 < len(root.Content); i += 2 {
			key, value := root.Content[i].Value, resolve(root.Content[i+1])
			if value == nil || value.Kind != yaml.SequenceNode {
				continue
			}
			switch key {
			case "select":
				if blk.hasSelect {
					continue
				}
				for _, item := range value.Content {
					item = resolve(item)
					if scalarField(item, "id") != PageSelectID {
						continue
					}
					declared, err := selectOptions(item)
					if err != nil {
						return nil, err
					}
					blk.hasSelect = true
					blk.declared = declared
					break
				}
			case "display":
				if blk.routine != nil {
					continue
				}
				for _, item := range value.Content {
					lambda := resolve(field(resolve(item), "lambda"))
					if lambda == nil || lambda.Kind != yaml.ScalarNode {
						continue
					}
					lx := lexCpp(lambda.Value)
					if lx.hasDesignerContent() {
						blk.routine = lx
						break
					}
				}
			}
		}
	}
	return blk, nil
}

func selectOptions(item *yaml.Node) ([]string, error) {
	options := resolve(field(item, "options"))
	if options == nil {
		return nil, nil
	}
	if options.Kind != yaml.SequenceNode {
		return nil, unrecognized("page select options must be a list")
	}
	ids := make([]string, 0, len(options.Content))
	for _, o := range options.Content {
		o = resolve(o)
		if o == nil || o.Kind != yaml.ScalarNode || o.Value == "" {
			return nil, unrecognized("page select options must be non-empty page ids")
		}
		ids = append(ids, o.Value)
	}
	return ids, nil
}

func deviceName(comments []comment) (string, error) {
	var found *marker
	for _, c := range comments {
		m, ok, err := parseMarker(c.text)
		if err != nil {
			return "", unrecognized("%v", err)
		}
		if !ok {
			continue
		}
		if m.kind != markerDevice {
			return "", unrecognized("%s marker outside of a page branch", m.kind)
		}
		if found != nil {
			return "", unrecognized("duplicate device marker")
		}
		if err := m.expectFields("name", "v"); err != nil {
			return "", unrecognized("%v", err)
		}
		if m.fields["v"] != markerVersion {
			return "", unrecognized("unsupported marker version %q", m.fields["v"])
		}
		found = m
	}
	if found == nil {
		return "", nil
	}
	return found.fields["name"], nil
}

// decodePage turns the markers of a branch into a page. Comments that are not
// markers are ignored; markers that cannot be decoded fail the whole parse.
func decodePage(b *branch) (models.Page, error) {
	page := models.Page{ID: b.pageID, Name: b.pageID, Widgets: []models.Widget{}}
	namedBy := false
	ids := make(map[string]bool)

	for _, c := range b.comments {
		m, ok, err := parseMarker(c.text)
		if err != nil {
			return page, unrecognized("page %q: %v", b.pageID, err)
		}
		if !ok {
			continue
		}

		switch m.kind {
		case markerPage:
			if namedBy {
				return page, unrecognized("page %q: duplicate page marker", b.pageID)
			}
			if err := m.expectFields("name", "index"); err != nil {
				return page, unrecognized("page %q: %v", b.pageID, err)
			}
			if _, err := strconv.Atoi(m.fields["index"]); err != nil {
				return page, unrecognized("page %q: invalid index %q", b.pageID, m.fields["index"])
			}
			page.Name = m.fields["name"]
			namedBy = true

		case markerWidget:
			w, err := decodeWidget(m)
			if err != nil {
				return page, unrecognized("page %q: %v", b.pageID, err)
			}
			if ids[w.ID] {
				return page, unrecognized("page %q: duplicate widget id %q", b.pageID, w.ID)
			}
			ids[w.ID] = true
			page.Widgets = append(page.Widgets, w)

		default:
			return page, unrecognized("page %q: unexpected %s marker", b.pageID, m.kind)
		}
	}

	return page, nil
}

func decodeWidget(m *marker) (models.Widget, error) {
	var w models.Widget
	if err := m.expectFields("id", "type", "text", "entity", "x", "y", "w", "h"); err != nil {
		return w, err
	}

	if m.fields["id"] == "" {
		return w, errors.New("widget marker: empty id")
	}
	t, err := models.ParseWidgetType(m.fields["type"])
	if err != nil {
		return w, err
	}

	w = models.Widget{
		ID:       m.fields["id"],
		Type:     t,
		Text:     m.fields["text"],
		EntityID: m.fields["entity"],
	}

	geometry := []struct {
		key string
		dst *int
		def int
		min int
	}{
		{"x", &w.X, models.DefaultWidgetX, 0},
		{"y", &w.Y, models.DefaultWidgetY, 0},
		{"w", &w.Width, models.DefaultWidgetWidth, 1},
		{"h", &w.Height, models.DefaultWidgetHeight, 1},
	}
	for _, g := range geometry {
		raw := strings.TrimSpace(m.fields[g.key])
		if raw == "" {
			*g.dst = g.def
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return w, fmt.Errorf("widget marker: field %s is not an integer", g.key)
		}
		if v < g.min {
			return w, fmt.Errorf("widget marker: field %s is out of range", g.key)
		}
		*g.dst = v
	}

	return w, nil
}

// YAML node helpers

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func field(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func scalarField(n *yaml.Node, key string) string {
	v := resolve(field(n, key))
	if v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return v.Value
}

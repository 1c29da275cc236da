// Package snippet converts dashboard layouts to ESPHome configuration
// snippets and back.
//
// A generated snippet declares its pages as the options of a template
// select and renders them from a single display lambda with one branch per
// page. Every widget statement in the lambda carries a structural marker
// comment holding the full widget, which is what Parse reads back.
package snippet

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/koios/esphome-designer/pkg/models"
	"gopkg.in/yaml.v3"
)

// Component ids shared by the generator and the parser
const (
	PageGlobalID = "designer_page"
	PageSelectID = "designer_page_select"
	DisplayID    = "designer_display"
	FontID       = "designer_font"
)

const header = `# Generated by esphome-designer.
# This snippet is additive: paste it below your base ESPHome configuration
# (wifi, api, ota, logger and the display bus are not included).
`

// unboundCaption is printed by a sensor widget with no caption and no state
const unboundCaption = "--"

// Options controls the hardware-specific parts of the snippet
type Options struct {
	DisplayPlatform string
	DisplayModel    string
	UpdateInterval  string
	FontFile        string
	FontSize        int
	// DisplayPins are emitted verbatim on the display, sorted by key
	DisplayPins map[string]string
}

// DefaultOptions targets the 7.5" e-paper panel of the reTerminal E1001
func DefaultOptions() Options {
	return Options{
		DisplayPlatform: "waveshare_epaper",
		DisplayModel:    "7.50inv2",
		UpdateInterval:  "never",
		FontFile:        "gfonts://Inter@500",
		FontSize:        20,
	}
}

// Generator renders devices into snippets
type Generator struct {
	opts Options
}

// NewGenerator creates a generator. Blank options fall back to DefaultOptions.
func NewGenerator(opts Options) *Generator {
	def := DefaultOptions()
	if opts.DisplayPlatform == "" {
		opts.DisplayPlatform = def.DisplayPlatform
	}
	if opts.DisplayModel == "" {
		opts.DisplayModel = def.DisplayModel
	}
	if opts.UpdateInterval == "" {
		opts.UpdateInterval = def.UpdateInterval
	}
	if opts.FontFile == "" {
		opts.FontFile = def.FontFile
	}
	if opts.FontSize <= 0 {
		opts.FontSize = def.FontSize
	}
	return &Generator{opts: opts}
}

// Generate renders a snippet using DefaultOptions
func Generate(device *models.Device) (string, error) {
	return NewGenerator(Options{}).Generate(device)
}

// Generate renders the snippet for a device. The output depends only on the
// device and the options, so equal inputs always produce identical text.
// It fails only for devices that violate the layout invariants.
func (g *Generator) Generate(device *models.Device) (string, error) {
	if device == nil {
		return "", fmt.Errorf("device is nil")
	}
	if errs := device.Validate(); len(errs) > 0 {
		return "", errs
	}

	sensors := newSensorIDs(device)

	root := mapping(
		"globals", sequence(g.globals(device)),
		"select", sequence(g.pageSelect(device)),
		"font", sequence(g.font()),
	)
	if len(sensors.order) > 0 {
		root.Content = append(root.Content, str("text_sensor"), g.textSensors(sensors))
	}
	root.Content = append(root.Content, str("display"), sequence(g.display(device, sensors)))

	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteByte('\n')

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("failed to encode snippet: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode snippet: %w", err)
	}

	return buf.String(), nil
}

func (g *Generator) globals(device *models.Device) *yaml.Node {
	return mapping(
		"id", str(PageGlobalID),
		"type", plain("std::string"),
		"restore_value", plain("false"),
		"initial_value", str(cppQuote(device.Pages[0].ID)),
	)
}

// pageSelect is the declarative page list: one option per page, in order
func (g *Generator) pageSelect(device *models.Device) *yaml.Node {
	options := &yaml.Node{Kind: yaml.SequenceNode}
	for _, p := range device.Pages {
		options.Content = append(options.Content, str(p.ID))
	}

	setAction := sequence(
		mapping("lambda", str("id("+PageGlobalID+") = x;")),
		mapping("component.update", str(DisplayID)),
	)

	return mapping(
		"platform", plain("template"),
		"id", str(PageSelectID),
		"name", str("Designer page"),
		"optimistic", plain("true"),
		"initial_option", str(device.Pages[0].ID),
		"options", options,
		"set_action", setAction,
	)
}

func (g *Generator) font() *yaml.Node {
	return mapping(
		"file", str(g.opts.FontFile),
		"id", str(FontID),
		"size", plain(strconv.Itoa(g.opts.FontSize)),
	)
}

func (g *Generator) textSensors(sensors *sensorIDs) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, entity := range sensors.order {
		seq.Content = append(seq.Content, mapping(
			"platform", plain("homeassistant"),
			"id", str(sensors.ids[entity]),
			"entity_id", str(entity),
			"internal", plain("true"),
		))
	}
	return seq
}

func (g *Generator) display(device *models.Device, sensors *sensorIDs) *yaml.Node {
	n := mapping(
		"platform", str(g.opts.DisplayPlatform),
		"id", str(DisplayID),
		"model", str(g.opts.DisplayModel),
	)

	keys := make([]string, 0, len(g.opts.DisplayPins))
	for k := range g.opts.DisplayPins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Content = append(n.Content, str(k), str(g.opts.DisplayPins[k]))
	}

	lambda := &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Style: yaml.LiteralStyle,
		Value: renderLambda(device, sensors),
	}
	n.Content = append(n.Content,
		str("update_interval"), str(g.opts.UpdateInterval),
		str("lambda"), lambda,
	)
	return n
}

// renderLambda emits the rendering routine: one branch per page, one marked
// statement per widget.
func renderLambda(device *models.Device, sensors *sensorIDs) string {
	var b strings.Builder
	b.WriteString(formatMarker(markerDevice,
		markerField{"name", device.Name},
		markerField{"v", markerVersion},
	))

	for i, p := range device.Pages {
		fmt.Fprintf(&b, "\nif (id(%s) == %s) {\n", PageGlobalID, cppQuote(p.ID))
		b.WriteString("  ")
		b.WriteString(formatMarker(markerPage,
			markerField{"name", p.Name},
			markerField{"index", strconv.Itoa(i)},
		))
		for _, w := range p.Widgets {
			b.WriteString("\n  ")
			b.WriteString(renderStatement(w, sensors))
			b.WriteString("  ")
			b.WriteString(widgetMarker(w))
		}
		b.WriteString("\n}")
	}

	return b.String()
}

func renderStatement(w models.Widget, sensors *sensorIDs) string {
	if w.Type == models.WidgetSensor && w.EntityID != "" {
		id := sensors.ids[w.EntityID]
		fallback := w.Text
		if fallback == "" {
			fallback = unboundCaption
		}
		return fmt.Sprintf("it.printf(%d, %d, id(%s), \"%%s\", id(%s).has_state() ? id(%s).state.c_str() : %s);",
			w.X, w.Y, FontID, id, id, cppQuote(fallback))
	}

	text := w.Text
	if w.Type == models.WidgetSensor && text == "" {
		text = unboundCaption
	}
	return fmt.Sprintf("it.print(%d, %d, id(%s), %s);", w.X, w.Y, FontID, cppQuote(text))
}

// widgetMarker ends with a numeric field so marker lines never carry
// trailing whitespace.
func widgetMarker(w models.Widget) string {
	return formatMarker(markerWidget,
		markerField{"id", w.ID},
		markerField{"type", string(w.Type)},
		markerField{"text", w.Text},
		markerField{"entity", w.EntityID},
		markerField{"x", strconv.Itoa(w.X)},
		markerField{"y", strconv.Itoa(w.Y)},
		markerField{"w", strconv.Itoa(w.Width)},
		markerField{"h", strconv.Itoa(w.Height)},
	)
}

// sensorIDs assigns ESPHome component ids to entity ids in first-use order
type sensorIDs struct {
	ids   map[string]string
	order []string
}

func newSensorIDs(device *models.Device) *sensorIDs {
	s := &sensorIDs{ids: make(map[string]string)}
	taken := make(map[string]bool)
	for _, p := range device.Pages {
		for _, w := range p.Widgets {
			if w.Type != models.WidgetSensor || w.EntityID == "" {
				continue
			}
			if _, ok := s.ids[w.EntityID]; ok {
				continue
			}
			base := "ha_" + sanitizeID(w.EntityID)
			id := base
			for n := 2; taken[id]; n++ {
				id = fmt.Sprintf("%s_%d", base, n)
			}
			taken[id] = true
			s.ids[w.EntityID] = id
			s.order = append(s.order, w.EntityID)
		}
	}
	return s
}

// sanitizeID maps an entity id onto the ESPHome id alphabet
func sanitizeID(entityID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(entityID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// YAML node helpers

func mapping(kv ...interface{}) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Content = append(n.Content, str(kv[i].(string)), kv[i+1].(*yaml.Node))
	}
	return n
}

func sequence(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Content: items}
}

// str is a scalar that always reads back as a string, quoted when needed
func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// plain is a scalar left to YAML's implicit typing (numbers, booleans, C++ types)
func plain(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// WidgetType enumerates the renderable widget kinds
type WidgetType string

const (
	WidgetLabel  WidgetType = "label"
	WidgetSensor WidgetType = "sensor"
)

// Geometry defaults applied when a widget omits position or size
const (
	DefaultWidgetX      = 10
	DefaultWidgetY      = 10
	DefaultWidgetWidth  = 120
	DefaultWidgetHeight = 24
)

// Identity of the page every new device starts with
const (
	DefaultPageID   = "page_1"
	DefaultPageName = "Page 1"
)

// Valid reports whether t is one of the known widget kinds
func (t WidgetType) Valid() bool {
	return t == WidgetLabel || t == WidgetSensor
}

// ParseWidgetType converts a raw type name into a WidgetType
func ParseWidgetType(s string) (WidgetType, error) {
	t := WidgetType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown widget type %q", s)
	}
	return t, nil
}

// Device is the root of a dashboard layout. It owns its pages exclusively.
type Device struct {
	Name  string `json:"name"`
	Pages []Page `json:"pages"`
}

// Page is an independently addressable screen of a device
type Page struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Widgets []Widget `json:"widgets"`
}

// Widget is a single element placed on a page.
// EntityID is only meaningful for sensor widgets and is always empty for labels.
type Widget struct {
	ID       string
	Type     WidgetType
	X        int
	Y        int
	Width    int
	Height   int
	Text     string
	EntityID string
}

// widgetJSON is the wire shape of a widget. Geometry is decoded through
// pointers so omitted fields can be told apart from zero values.
type widgetJSON struct {
	ID       string     `json:"id"`
	Type     WidgetType `json:"type"`
	X        *float64   `json:"x,omitempty"`
	Y        *float64   `json:"y,omitempty"`
	Width    *float64   `json:"width,omitempty"`
	Height   *float64   `json:"height,omitempty"`
	Text     string     `json:"text"`
	EntityID *string    `json:"entity_id,omitempty"`
}

// MarshalJSON emits entity_id for sensors only, so labels never carry it
func (w Widget) MarshalJSON() ([]byte, error) {
	x, y := float64(w.X), float64(w.Y)
	width, height := float64(w.Width), float64(w.Height)
	out := widgetJSON{
		ID:     w.ID,
		Type:   w.Type,
		X:      &x,
		Y:      &y,
		Width:  &width,
		Height: &height,
		Text:   w.Text,
	}
	if w.Type == WidgetSensor {
		entity := w.EntityID
		out.EntityID = &entity
	}
	return json.Marshal(out)
}

// UnmarshalJSON fills geometry defaults for omitted fields. The editor
// produces fractional coordinates while dragging, so values are rounded.
func (w *Widget) UnmarshalJSON(data []byte) error {
	var in widgetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*w = Widget{
		ID:     in.ID,
		Type:   in.Type,
		X:      roundOr(in.X, DefaultWidgetX),
		Y:      roundOr(in.Y, DefaultWidgetY),
		Width:  roundOr(in.Width, DefaultWidgetWidth),
		Height: roundOr(in.Height, DefaultWidgetHeight),
		Text:   in.Text,
	}
	if in.EntityID != nil {
		w.EntityID = *in.EntityID
	}
	// A zero size is what the editor sends for "unset"
	if w.Width == 0 {
		w.Width = DefaultWidgetWidth
	}
	if w.Height == 0 {
		w.Height = DefaultWidgetHeight
	}
	return nil
}

func roundOr(v *float64, def int) int {
	if v == nil {
		return def
	}
	return int(math.Round(*v))
}

// NewDevice builds a validated device from the given pages. The input slices
// are copied, so later changes to them do not affect the returned device.
func NewDevice(name string, pages []Page) (*Device, error) {
	d := &Device{Name: name, Pages: clonePages(pages)}
	d.normalize()
	if errs := d.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return d, nil
}

// DecodeDevice decodes a JSON layout body and validates it
func DecodeDevice(data []byte) (*Device, error) {
	var d Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode layout: %w", err)
	}
	return NewDevice(d.Name, d.Pages)
}

// DefaultDevice returns a device with a single empty page
func DefaultDevice(name string) *Device {
	return &Device{
		Name: name,
		Pages: []Page{
			{ID: DefaultPageID, Name: DefaultPageName, Widgets: []Widget{}},
		},
	}
}

// Clone returns a deep copy of the device
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	return &Device{Name: d.Name, Pages: clonePages(d.Pages)}
}

// WidgetCount returns the number of widgets across all pages
func (d *Device) WidgetCount() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Widgets)
	}
	return n
}

// Page returns the page with the given id
func (d *Device) Page(id string) (*Page, bool) {
	for i := range d.Pages {
		if d.Pages[i].ID == id {
			return &d.Pages[i], true
		}
	}
	return nil, false
}

func (d *Device) normalize() {
	for i := range d.Pages {
		p := &d.Pages[i]
		if p.Widgets == nil {
			p.Widgets = []Widget{}
		}
		for j := range p.Widgets {
			if p.Widgets[j].Type == WidgetLabel {
				p.Widgets[j].EntityID = ""
			}
		}
	}
}

// Validate checks the structural invariants of the device
func (d *Device) Validate() ValidationErrors {
	var errs ValidationErrors

	if len(d.Pages) == 0 {
		errs = append(errs, ValidationError{
			Field:   "pages",
			Message: "a device must contain at least one page",
			Code:    "no_pages",
		})
		return errs
	}

	errs = appendEncodingError(errs, "name", d.Name)

	pageIDs := make(map[string]bool, len(d.Pages))
	for i, p := range d.Pages {
		field := fmt.Sprintf("pages[%d]", i)
		errs = appendEncodingError(errs, field+".id", p.ID)
		errs = appendEncodingError(errs, field+".name", p.Name)
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "page id is required", Code: "required"})
		} else if pageIDs[p.ID] {
			errs = append(errs, ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate page id '%s'", p.ID), Code: "duplicate_id"})
		}
		pageIDs[p.ID] = true

		widgetIDs := make(map[string]bool, len(p.Widgets))
		for j, w := range p.Widgets {
			wf := fmt.Sprintf("%s.widgets[%d]", field, j)
			errs = appendEncodingError(errs, wf+".id", w.ID)
			errs = appendEncodingError(errs, wf+".text", w.Text)
			errs = appendEncodingError(errs, wf+".entity_id", w.EntityID)
			if strings.TrimSpace(w.ID) == "" {
				errs = append(errs, ValidationError{Field: wf + ".id", Message: "widget id is required", Code: "required"})
			} else if widgetIDs[w.ID] {
				errs = append(errs, ValidationError{Field: wf + ".id", Message: fmt.Sprintf("duplicate widget id '%s'", w.ID), Code: "duplicate_id"})
			}
			widgetIDs[w.ID] = true

			if !w.Type.Valid() {
				errs = append(errs, ValidationError{Field: wf + ".type", Message: fmt.Sprintf("unknown widget type '%s'", w.Type), Code: "invalid_type"})
			}
			if w.X < 0 || w.Y < 0 {
				errs = append(errs, ValidationError{Field: wf, Message: "position must not be negative", Code: "invalid_geometry"})
			}
			if w.Width <= 0 || w.Height <= 0 {
				errs = append(errs, ValidationError{Field: wf, Message: "size must be positive", Code: "invalid_geometry"})
			}
		}
	}

	return errs
}

// appendEncodingError rejects text that is not valid UTF-8, which cannot be
// written to a snippet
func appendEncodingError(errs ValidationErrors, field, value string) ValidationErrors {
	if utf8.ValidString(value) {
		return errs
	}
	return append(errs, ValidationError{Field: field, Message: "text must be valid UTF-8", Code: "invalid_encoding"})
}

func clonePages(pages []Page) []Page {
	out := make([]Page, len(pages))
	for i, p := range pages {
		out[i] = Page{ID: p.ID, Name: p.Name}
		if p.Widgets != nil {
			out[i].Widgets = append([]Widget{}, p.Widgets...)
		}
	}
	return out
}

// ValidationError describes a single invariant violation
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationErrors is returned when a device fails construction
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Field + ": " + v.Message
	}
	return "invalid layout: " + strings.Join(parts, "; ")
}

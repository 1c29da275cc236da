package models

import "time"

// Layout event types
const (
	EventLayoutSaved     = "layout_saved"
	EventSnippetImported = "snippet_imported"
)

// LayoutEvent announces that the stored layout of a device was replaced
type LayoutEvent struct {
	Type        string    `json:"type"`
	DeviceKey   string    `json:"device_key"`
	DeviceName  string    `json:"device_name"`
	PageCount   int       `json:"page_count"`
	WidgetCount int       `json:"widget_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewLayoutEvent summarises a stored device
func NewLayoutEvent(eventType, key string, device *Device, at time.Time) *LayoutEvent {
	return &LayoutEvent{
		Type:        eventType,
		DeviceKey:   key,
		DeviceName:  device.Name,
		PageCount:   len(device.Pages),
		WidgetCount: device.WidgetCount(),
		UpdatedAt:   at,
	}
}

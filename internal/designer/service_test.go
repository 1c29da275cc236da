package designer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/internal/notify"
	"github.com/koios/esphome-designer/internal/store"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/koios/esphome-designer/pkg/snippet"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	events []*models.LayoutEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e *models.LayoutEvent) error {
	r.events = append(r.events, e)
	return r.err
}

type failingStore struct {
	store.Store
}

func (failingStore) Save(context.Context, string, *models.Device) error {
	return errors.New("disk full")
}

func (failingStore) Update(context.Context, string, store.UpdateFunc) (*models.Device, error) {
	return nil, errors.New("disk full")
}

func newTestService(st store.Store, n notify.Notifier) *Service {
	s := NewService(st, n, snippet.NewGenerator(snippet.Options{}), "default_device", zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func sampleDevice() *models.Device {
	return &models.Device{
		Name: "Kitchen",
		Pages: []models.Page{{
			ID:   "page_1",
			Name: "Main",
			Widgets: []models.Widget{
				{ID: "w1", Type: models.WidgetSensor, X: 4, Y: 8, Width: 100, Height: 20, EntityID: "sensor.temperature"},
			},
		}},
	}
}

func TestService_GetLayoutDefault(t *testing.T) {
	s := newTestService(store.NewMemoryStore(), nil)
	got, err := s.GetLayout(context.Background(), "")
	if err != nil {
		t.Fatalf("GetLayout: %v", err)
	}
	if got.Name != "default_device" || len(got.Pages) != 1 {
		t.Errorf("unexpected default layout: %+v", got)
	}
}

func TestService_SaveLayout(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := newTestService(store.NewMemoryStore(), n)

	saved, err := s.SaveLayout(ctx, "kitchen", sampleDevice())
	if err != nil {
		t.Fatalf("SaveLayout: %v", err)
	}
	got, _ := s.GetLayout(ctx, "kitchen")
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("stored layout mismatch (-want +got):\n%s", diff)
	}

	if len(n.events) != 1 {
		t.Fatalf("expected one event, got %d", len(n.events))
	}
	want := &models.LayoutEvent{
		Type:        models.EventLayoutSaved,
		DeviceKey:   "kitchen",
		DeviceName:  "Kitchen",
		PageCount:   1,
		WidgetCount: 1,
		UpdatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, n.events[0]); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestService_SaveLayoutInvalid(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestService(store.NewMemoryStore(), n)

	_, err := s.SaveLayout(context.Background(), "", &models.Device{Name: "x"})
	var verrs models.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(n.events) != 0 {
		t.Error("invalid layouts must not be announced")
	}
}

func TestService_NotifierFailureIsNotFatal(t *testing.T) {
	s := newTestService(store.NewMemoryStore(), &recordingNotifier{err: errors.New("down")})
	if _, err := s.SaveLayout(context.Background(), "", sampleDevice()); err != nil {
		t.Errorf("notifier failure should not fail the save: %v", err)
	}
}

func TestService_PersistFailure(t *testing.T) {
	s := newTestService(failingStore{store.NewMemoryStore()}, nil)

	if _, err := s.SaveLayout(context.Background(), "", sampleDevice()); !errors.Is(err, ErrPersist) {
		t.Errorf("SaveLayout: expected ErrPersist, got %v", err)
	}

	text, err := snippet.Generate(models.DefaultDevice("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ImportSnippet(context.Background(), "", text); !errors.Is(err, ErrPersist) {
		t.Errorf("ImportSnippet: expected ErrPersist, got %v", err)
	}
}

func TestService_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := newTestService(store.NewMemoryStore(), n)

	saved, err := s.SaveLayout(ctx, "a", sampleDevice())
	if err != nil {
		t.Fatal(err)
	}
	text, err := s.ExportSnippet(ctx, "a")
	if err != nil {
		t.Fatalf("ExportSnippet: %v", err)
	}

	imported, err := s.ImportSnippet(ctx, "b", text)
	if err != nil {
		t.Fatalf("ImportSnippet: %v", err)
	}
	if diff := cmp.Diff(saved, imported, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	last := n.events[len(n.events)-1]
	if last.Type != models.EventSnippetImported || last.DeviceKey != "b" {
		t.Errorf("unexpected import event: %+v", last)
	}
}

func TestService_ImportRejectedLeavesStore(t *testing.T) {
	ctx := context.Background()
	s := newTestService(store.NewMemoryStore(), nil)

	before, _ := s.SaveLayout(ctx, "", sampleDevice())
	_, err := s.ImportSnippet(ctx, "", "wifi:\n  ssid: home\n")
	if !errors.Is(err, snippet.ErrUnrecognizedStructure) {
		t.Fatalf("expected unrecognized structure, got %v", err)
	}

	after, _ := s.GetLayout(ctx, "")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rejected import changed the store (-want +got):\n%s", diff)
	}
}

func TestService_ImportKeepsNameWithoutDeviceMarker(t *testing.T) {
	ctx := context.Background()
	s := newTestService(store.NewMemoryStore(), nil)
	if _, err := s.SaveLayout(ctx, "", sampleDevice()); err != nil {
		t.Fatal(err)
	}

	text := "select:\n  - platform: template\n    id: designer_page_select\n    options: [one, two]\n"
	got, err := s.ImportSnippet(ctx, "", text)
	if err != nil {
		t.Fatalf("ImportSnippet: %v", err)
	}
	if got.Name != "Kitchen" {
		t.Errorf("Name = %q, want the stored name", got.Name)
	}
	if len(got.Pages) != 2 || got.Pages[1].ID != "two" {
		t.Errorf("unexpected pages: %+v", got.Pages)
	}
}

func TestNewGenerator_FromConfig(t *testing.T) {
	device := models.DefaultDevice("panel")

	text, err := NewGenerator(config.SnippetConfig{DisplayModel: "7.50in-bV2", FontSize: 28}).Generate(device)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"model: 7.50in-bV2", "size: 28", "platform: " + snippet.DefaultOptions().DisplayPlatform} {
		if !strings.Contains(text, want) {
			t.Errorf("snippet missing %q", want)
		}
	}
}

package homeassistant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/pkg/models"
	"go.uber.org/zap"
)

func TestClient_Entities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[
			{"entity_id": "sensor.temperature", "state": "21.5", "attributes": {"friendly_name": "Temperature"}},
			{"entity_id": "light.kitchen", "state": "on", "attributes": {}},
			{"entity_id": "", "state": "bogus"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	got, err := c.Entities(context.Background())
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}

	want := []models.Entity{
		{EntityID: "light.kitchen", Name: "light.kitchen", Domain: "light"},
		{EntityID: "sensor.temperature", Name: "Temperature", Domain: "sensor"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "wrong", zap.NewNop()).Entities(context.Background()); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestNewSource(t *testing.T) {
	logger := zap.NewNop()

	t.Run("empty", func(t *testing.T) {
		src, err := NewSource(config.HomeAssistantConfig{}, logger)
		if err != nil {
			t.Fatalf("NewSource: %v", err)
		}
		got, _ := src.Entities(context.Background())
		if len(got) != 0 {
			t.Errorf("expected empty catalog, got %d", len(got))
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "entities.yaml")
		body := "entities:\n  - entity_id: sensor.humidity\n    name: Humidity\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}

		src, err := NewSource(config.HomeAssistantConfig{EntitiesFile: path}, logger)
		if err != nil {
			t.Fatalf("NewSource: %v", err)
		}
		got, _ := src.Entities(context.Background())
		if len(got) != 1 || got[0].Domain != "sensor" {
			t.Errorf("unexpected catalog: %+v", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := NewSource(config.HomeAssistantConfig{EntitiesFile: "/nonexistent.yaml"}, logger); err == nil {
			t.Error("expected error for missing catalog file")
		}
	})

	t.Run("rest", func(t *testing.T) {
		src, err := NewSource(config.HomeAssistantConfig{URL: "http://ha.local:8123", Token: "t"}, logger)
		if err != nil {
			t.Fatalf("NewSource: %v", err)
		}
		if _, ok := src.(*Client); !ok {
			t.Errorf("expected REST client, got %T", src)
		}
	})
}

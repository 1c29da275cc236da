package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"
	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/internal/designer"
	"github.com/koios/esphome-designer/internal/simulator"
	"github.com/koios/esphome-designer/internal/store"
	"github.com/koios/esphome-designer/pkg/models"
	"github.com/koios/esphome-designer/pkg/snippet"
	"go.uber.org/zap"
)

const basePath = "/api/esphome_designer"

const kitchenLayout = `{
	"name": "Kitchen",
	"pages": [{
		"id": "main",
		"name": "Main",
		"widgets": [
			{"id": "w1", "type": "label", "x": 5, "y": 6, "width": 100, "height": 20, "text": "Hello"},
			{"id": "w2", "type": "sensor", "x": 5, "y": 40, "width": 100, "height": 20, "text": "Temp", "entity_id": "sensor.kitchen_temp"}
		]
	}]
}`

type stubSource struct {
	entities []models.Entity
	err      error
}

func (s stubSource) Entities(context.Context) ([]models.Entity, error) {
	return s.entities, s.err
}

type stubProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *stubProcess) Pid() int              { return 4242 }
func (p *stubProcess) Done() <-chan struct{} { return p.done }
func (p *stubProcess) Terminate() error      { p.once.Do(func() { close(p.done) }); return nil }
func (p *stubProcess) Kill() error           { return p.Terminate() }

type stubToolchain struct {
	missing    bool
	compileErr error
}

func (s stubToolchain) Check(context.Context) simulator.Availability {
	return simulator.Availability{Available: !s.missing, ESPHomeInstalled: !s.missing, SDLInstalled: true}
}

func (s stubToolchain) Compile(context.Context, string, string) error {
	return s.compileErr
}

func (s stubToolchain) Launch(string, string) (simulator.Process, error) {
	return &stubProcess{done: make(chan struct{})}, nil
}

type testEnv struct {
	router *mux.Router
	store  *store.MemoryStore
}

func setupTestHandler(t *testing.T, source stubSource, tc stubToolchain) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	st := store.NewMemoryStore()
	service := designer.NewService(st, nil, snippet.NewGenerator(snippet.Options{}), "reterminal_e1001", logger)

	manager := simulator.NewManager(tc, config.SimulatorConfig{WorkDir: t.TempDir(), CompileWorkers: 1, CompileTimeout: 5}, logger)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	router := mux.NewRouter()
	NewHandler(service, source, manager, logger).RegisterRoutes(router, basePath)
	return &testEnv{router: router, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body errorBody
	decodeBody(t, w, &body)
	if body.Error != code {
		t.Errorf("Expected error %q, got %q", code, body.Error)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	w := env.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var response map[string]interface{}
	decodeBody(t, w, &response)
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
	if response["service"] != "esphome-designer" {
		t.Errorf("Expected service 'esphome-designer', got %v", response["service"])
	}
}

func TestHandleTest(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	w := env.do(t, http.MethodGet, basePath+"/test", "")
	var response map[string]interface{}
	decodeBody(t, w, &response)
	if w.Code != http.StatusOK || response["status"] != "ok" {
		t.Errorf("Unexpected test response %d: %v", w.Code, response)
	}
}

func TestRouting(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	assertError(t, env.do(t, http.MethodPut, basePath+"/layout", "{}"), http.StatusMethodNotAllowed, "method_not_allowed")
	assertError(t, env.do(t, http.MethodGet, basePath+"/import_snippet", ""), http.StatusMethodNotAllowed, "method_not_allowed")
	assertError(t, env.do(t, http.MethodDelete, basePath+"/simulator/status", ""), http.StatusMethodNotAllowed, "method_not_allowed")
	if w := env.do(t, http.MethodPost, "/health", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST /health, got %d", w.Code)
	}
	assertError(t, env.do(t, http.MethodGet, basePath+"/nope", ""), http.StatusNotFound, "not_found")
}

func TestGetLayout_Default(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	w := env.do(t, http.MethodGet, basePath+"/layout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got models.Device
	decodeBody(t, w, &got)
	if diff := cmp.Diff(models.DefaultDevice("reterminal_e1001"), &got); diff != "" {
		t.Errorf("default layout mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLayout(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	w := env.do(t, http.MethodPost, basePath+"/layout?device=kitchen", kitchenLayout)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var saved models.Device
	decodeBody(t, w, &saved)

	stored, err := env.store.Get(context.Background(), "kitchen")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(stored, &saved); diff != "" {
		t.Errorf("stored layout differs from response (-stored +response):\n%s", diff)
	}

	w = env.do(t, http.MethodGet, basePath+"/layout?device=kitchen", "")
	var fetched models.Device
	decodeBody(t, w, &fetched)
	if diff := cmp.Diff(&saved, &fetched); diff != "" {
		t.Errorf("fetched layout mismatch (-want +got):\n%s", diff)
	}
	if fetched.Pages[0].Widgets[0].EntityID != "" {
		t.Error("label widget must not carry an entity")
	}
}

func TestSaveLayout_Errors(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	assertError(t, env.do(t, http.MethodPost, basePath+"/layout", "{not json"), http.StatusBadRequest, "invalid_json")
	assertError(t, env.do(t, http.MethodPost, basePath+"/layout", `{"name":"a"} {"name":"b"}`), http.StatusBadRequest, "invalid_json")

	invalid := `{"name":"x","pages":[{"id":"p","name":"P","widgets":[{"id":"w","type":"button","text":"?"}]}]}`
	body := assertError(t, env.do(t, http.MethodPost, basePath+"/layout", invalid), http.StatusBadRequest, "invalid_layout")
	details, ok := body.Errors.([]interface{})
	if !ok || len(details) == 0 {
		t.Fatalf("Expected validation details, got %#v", body.Errors)
	}
	first := details[0].(map[string]interface{})
	if first["code"] != "invalid_type" {
		t.Errorf("Expected invalid_type, got %v", first["code"])
	}

	assertError(t, env.do(t, http.MethodPost, basePath+"/layout", `{"name":"empty","pages":[]}`), http.StatusBadRequest, "invalid_layout")
}

func TestExportSnippet(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})
	env.do(t, http.MethodPost, basePath+"/layout", kitchenLayout)

	w := env.do(t, http.MethodGet, basePath+"/snippet", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/yaml") {
		t.Errorf("Expected text/yaml, got %s", ct)
	}
	for _, want := range []string{"designer_display", "designer_page_select", "sensor.kitchen_temp"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("snippet missing %q", want)
		}
	}
}

func TestImportSnippet(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})
	env.do(t, http.MethodPost, basePath+"/layout?device=source", kitchenLayout)
	text := env.do(t, http.MethodGet, basePath+"/snippet?device=source", "").Body.String()

	payload, _ := json.Marshal(map[string]string{"yaml": text})
	w := env.do(t, http.MethodPost, basePath+"/import_snippet?device=target", string(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	ctx := context.Background()
	source, _ := env.store.Get(ctx, "source")
	target, _ := env.store.Get(ctx, "target")
	if diff := cmp.Diff(source, target); diff != "" {
		t.Errorf("imported layout mismatch (-want +got):\n%s", diff)
	}
}

func TestImportSnippet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    string
		message string
	}{
		{"malformed body", `{"yaml":`, "invalid_json", ""},
		{"missing field", `{}`, "missing_yaml", ""},
		{"not a string", `{"yaml": 5}`, "missing_yaml", ""},
		{"blank", `{"yaml": "  \n "}`, "missing_yaml", ""},
		{"bad yaml", `{"yaml": "a: [1"}`, string(snippet.KindInvalidYAML), snippet.KindInvalidYAML.Message()},
		{"foreign config", `{"yaml": "wifi:\n  ssid: home\n"}`, string(snippet.KindUnrecognizedStructure), snippet.KindUnrecognizedStructure.Message()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandler(t, stubSource{}, stubToolchain{})
			env.do(t, http.MethodPost, basePath+"/layout", kitchenLayout)
			before, _ := env.store.Get(context.Background(), "reterminal_e1001")

			body := assertError(t, env.do(t, http.MethodPost, basePath+"/import_snippet", tt.body), http.StatusBadRequest, tt.code)
			if tt.message != "" && body.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, body.Message)
			}

			after, _ := env.store.Get(context.Background(), "reterminal_e1001")
			if diff := cmp.Diff(before, after); diff != "" {
				t.Errorf("rejected import changed the stored layout:\n%s", diff)
			}
		})
	}
}

func TestListEntities(t *testing.T) {
	source := stubSource{entities: []models.Entity{
		{EntityID: "sensor.kitchen_temp", Name: "Kitchen Temperature", Domain: "sensor"},
		{EntityID: "sensor.office_humidity", Name: "Office Humidity", Domain: "sensor"},
		{EntityID: "weather.home", Name: "Home", Domain: "weather"},
	}}
	env := setupTestHandler(t, source, stubToolchain{})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"sensor.kitchen_temp", "sensor.office_humidity", "weather.home"}},
		{"?domains=weather", []string{"weather.home"}},
		{"?domains=sensor&search=TEMP", []string{"sensor.kitchen_temp"}},
		{"?search=nothing", []string{}},
	}

	for _, tt := range tests {
		w := env.do(t, http.MethodGet, basePath+"/entities"+tt.query, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", tt.query, w.Code)
		}
		var got []models.Entity
		decodeBody(t, w, &got)
		ids := make([]string, 0, len(got))
		for _, e := range got {
			ids = append(ids, e.EntityID)
		}
		if diff := cmp.Diff(tt.want, ids); diff != "" {
			t.Errorf("%s: entities mismatch (-want +got):\n%s", tt.query, diff)
		}
	}
}

func TestListEntities_SourceFailure(t *testing.T) {
	env := setupTestHandler(t, stubSource{err: errors.New("connection refused")}, stubToolchain{})
	assertError(t, env.do(t, http.MethodGet, basePath+"/entities", ""), http.StatusBadGateway, "entities_unavailable")
}

func TestSimulatorLifecycle(t *testing.T) {
	env := setupTestHandler(t, stubSource{}, stubToolchain{})

	var check simulator.Availability
	decodeBody(t, env.do(t, http.MethodGet, basePath+"/simulator/check", ""), &check)
	if !check.Available || check.Reason != nil {
		t.Errorf("Unexpected availability: %+v", check)
	}

	assertError(t, env.do(t, http.MethodPost, basePath+"/simulator/start", `{"yaml": ""}`), http.StatusBadRequest, "No YAML content provided")

	w := env.do(t, http.MethodPost, basePath+"/simulator/start", `{"yaml": "esphome:\n  name: sim\nhost:\n"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var started struct {
		Success   bool   `json:"success"`
		ProcessID string `json:"process_id"`
		PID       int    `json:"pid"`
		YAMLPath  string `json:"yaml_path"`
	}
	decodeBody(t, w, &started)
	if !started.Success || started.PID != 4242 || started.ProcessID == "" || started.YAMLPath == "" {
		t.Errorf("Unexpected start response: %+v", started)
	}

	var status struct {
		Running []simulator.Info `json:"running"`
		Count   int              `json:"count"`
	}
	decodeBody(t, env.do(t, http.MethodGet, basePath+"/simulator/status", ""), &status)
	if status.Count != 1 || status.Running[0].ProcessID != started.ProcessID {
		t.Errorf("Unexpected status: %+v", status)
	}

	stop := `{"process_id": "` + started.ProcessID + `"}`
	if w := env.do(t, http.MethodPost, basePath+"/simulator/stop", stop); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	assertError(t, env.do(t, http.MethodPost, basePath+"/simulator/stop", stop), http.StatusNotFound, "Process not found")

	decodeBody(t, env.do(t, http.MethodGet, basePath+"/simulator/status", ""), &status)
	if status.Count != 0 || len(status.Running) != 0 {
		t.Errorf("Expected no running simulators, got %+v", status)
	}
}

func TestSimulatorStart_Failures(t *testing.T) {
	const body = `{"yaml": "esphome:\n  name: sim\n"}`

	missing := setupTestHandler(t, stubSource{}, stubToolchain{missing: true})
	assertError(t, missing.do(t, http.MethodPost, basePath+"/simulator/start", body),
		http.StatusInternalServerError, "ESPHome CLI not installed. Run: pip install esphome")

	broken := setupTestHandler(t, stubSource{}, stubToolchain{compileErr: &simulator.CompileError{Output: "undefined reference"}})
	assertError(t, broken.do(t, http.MethodPost, basePath+"/simulator/start", body),
		http.StatusInternalServerError, "Compilation failed: undefined reference")

	assertError(t, broken.do(t, http.MethodPost, basePath+"/simulator/start", "nope"), http.StatusBadRequest, "invalid_json")
}

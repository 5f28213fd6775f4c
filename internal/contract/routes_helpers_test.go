package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/camera"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/cart"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/catalog"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/debounce"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/pipeline"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/web"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

const (
	defaultRequestTimeout = 2 * time.Second
	catalogPath           = "../../config/products.json"
)

type routeClient struct {
	baseURL string
	client  *http.Client
	// inProcess is set when the client talks to a server built by the test,
	// where the camera is a replay device and detections are scripted.
	inProcess bool
}

// newRouteClient targets CHECKOUT_BASE_URL when set, otherwise an in-process
// server over the shipped catalog.
func newRouteClient(t *testing.T) *routeClient {
	t.Helper()
	client := &http.Client{Timeout: defaultRequestTimeout}

	if baseURL := os.Getenv("CHECKOUT_BASE_URL"); baseURL != "" {
		if !isReachable(client, baseURL+"/api/status") {
			t.Skipf("checkout server not reachable at %s", baseURL)
		}
		return &routeClient{baseURL: baseURL, client: client}
	}

	srv := newInProcessServer(t)
	return &routeClient{baseURL: srv.URL, client: client, inProcess: true}
}

type scriptedDetector struct {
	dets []types.Detection
}

func (d scriptedDetector) Detect(context.Context, types.Frame) ([]types.Detection, error) {
	return d.dets, nil
}

func newInProcessServer(t *testing.T) *httptest.Server {
	t.Helper()
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	m := metrics.New()
	frame := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			frame.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	src := camera.NewSource(camera.OpenerFunc(func(context.Context) (camera.Device, error) {
		return camera.NewReplayDevice(frame), nil
	}), camera.DefaultSourceConfig(), nil, m)

	store := cart.NewStore(cat)
	queue := cart.NewEventQueue()
	cfg := pipeline.DefaultConfig()
	cfg.TargetFPS = 20
	cfg.InferenceEvery = 1
	p := pipeline.New(cfg, pipeline.Deps{
		Source: src,
		Detector: scriptedDetector{dets: []types.Detection{{
			ProductID:  "Maggi Noodles",
			Label:      "maggi_70g_14rs_front",
			Confidence: 0.91,
			Box:        types.BoundingBox{X1: 20, Y1: 20, X2: 100, Y2: 90},
		}}},
		Filter:  debounce.New(debounce.Config{LabelWindow: 2 * time.Second, Cooldown: 5 * time.Second}, cat),
		Emitter: cart.NewEmitter(store, queue),
		Metrics: m,
	})
	t.Cleanup(func() { _ = p.Stop() })

	s := web.NewServer(web.Config{}, web.Deps{
		Camera:  p,
		Store:   store,
		Queue:   queue,
		Catalog: cat,
		Metrics: m,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *routeClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *routeClient) getStream(t *testing.T, path string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		cancel()
		t.Fatalf("request failed: %v", err)
	}
	return resp, cancel
}

func (c *routeClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

// postSuccess posts payload and returns the "success" flag of a 200 reply.
func (c *routeClient) postSuccess(t *testing.T, path string, payload any) (bool, map[string]any) {
	t.Helper()
	resp, body := c.postJSON(t, path, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s status = %d body=%s", path, resp.StatusCode, body)
	}
	reply := decodeJSONMap(t, body)
	ok, isBool := reply["success"].(bool)
	if !isBool {
		t.Fatalf("POST %s: success is %T", path, reply["success"])
	}
	return ok, reply
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertLinePayload(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["id"], field+".id")
	requireString(t, payload["name"], field+".name")
	requireNumber(t, payload["price"], field+".price")
	requireString(t, payload["description"], field+".description")
	if q := requireNumber(t, payload["quantity"], field+".quantity"); q < 1 {
		t.Fatalf("%s.quantity = %v, want >= 1", field, q)
	}
}

func assertCartPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	lines := requireSlice(t, payload["cart"], "cart")
	for i, raw := range lines {
		assertLinePayload(t, requireMap(t, raw, fmt.Sprintf("cart[%d]", i)), fmt.Sprintf("cart[%d]", i))
	}
	requireNumber(t, payload["total"], "total")
	requireNumber(t, payload["item_count"], "item_count")
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	p := requireMap(t, payload["pipeline"], "pipeline")
	if _, ok := p["camera_active"].(bool); !ok {
		t.Fatalf("expected pipeline.camera_active to be bool, got %T", p["camera_active"])
	}
	requireNumber(t, p["target_fps"], "pipeline.target_fps")
	requireNumber(t, p["frames_rendered"], "pipeline.frames_rendered")
	requireNumber(t, p["inferences_started"], "pipeline.inferences_started")
	requireNumber(t, p["inferences_skipped"], "pipeline.inferences_skipped")
	requireNumber(t, p["last_inference_ms"], "pipeline.last_inference_ms")
	requireSlice(t, p["detections"], "pipeline.detections")

	c := requireMap(t, payload["cart"], "cart")
	requireNumber(t, c["item_count"], "cart.item_count")
	requireNumber(t, c["total"], "cart.total")

	requireNumber(t, payload["pending_events"], "pending_events")
	requireNumber(t, payload["timestamp"], "timestamp")
}

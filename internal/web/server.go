// Package web adapts the checkout core to the browser client: MJPEG video,
// cart polling and the cart/camera control endpoints.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/cart"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/catalog"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/pipeline"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/receipts"
)

const checkoutMessage = "Payment successful! Thank You For Shopping."

// Camera is the camera lifecycle and video surface of the pipeline.
type Camera interface {
	Start(ctx context.Context) error
	Stop() error
	Renew()
	Running() bool
	NextFrame() []byte
	Interval() time.Duration
	Status() pipeline.Status
}

// Catalog is the product search surface.
type Catalog interface {
	Search(query string) []catalog.Product
}

// Ledger records completed checkouts.
type Ledger interface {
	Record(ctx context.Context, snap cart.Snapshot) (receipts.Receipt, error)
}

// Config defines the runtime configuration of the HTTP adapter.
type Config struct {
	StaticDir string
}

// Deps are the core objects the handlers delegate to. Receipts and Metrics
// are optional.
type Deps struct {
	Camera   Camera
	Store    *cart.Store
	Queue    *cart.EventQueue
	Catalog  Catalog
	Receipts Ledger
	Metrics  *metrics.Metrics
}

// Server serves the checkout endpoints.
type Server struct {
	cfg  Config
	deps Deps
}

// NewServer returns a configured server.
func NewServer(cfg Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", newStaticHandler(s.cfg.StaticDir)))
	mux.HandleFunc("GET /video_feed", s.handleVideoFeed)
	mux.HandleFunc("GET /prompt", s.handlePrompt)
	mux.HandleFunc("GET /cart", s.handleCart)
	mux.HandleFunc("POST /cart/add", s.handleCartAdd)
	mux.HandleFunc("POST /cart/update/{id}", s.handleCartUpdate)
	mux.HandleFunc("POST /cart/remove/{id}", s.handleCartRemove)
	mux.HandleFunc("POST /cart/clear", s.handleCartClear)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /checkout", s.handleCheckoutPage)
	mux.HandleFunc("POST /checkout", s.handleCheckout)
	mux.HandleFunc("POST /camera/start", s.handleCameraStart)
	mux.HandleFunc("POST /camera/stop", s.handleCameraStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	logger.Debug("HTTP", "Video feed requested")
	streamMJPEG(w, r, s.deps.Camera.Interval(), s.deps.Camera.NextFrame)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	s.deps.Camera.Renew()

	ev, ok := s.deps.Queue.Pop()
	payload := map[string]any{"action": "none"}
	if ok {
		payload = eventPayload(ev)
		if s.deps.Metrics != nil {
			s.deps.Metrics.EventsDelivered.Add(1)
		}
		logger.Debug("HTTP", "Serving prompt: %s %s", ev.Kind, ev.Item.Name)
	}

	if wantsProtobuf(r) {
		writeProtobuf(w, payload)
		return
	}
	writeJSON(w, payload)
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	s.deps.Camera.Renew()
	writeJSON(w, s.deps.Store.Snapshot())
}

func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONWithStatus(w, failure("invalid request body"), http.StatusBadRequest)
		return
	}

	line, err := s.deps.Store.AddProduct(body.Name)
	if err != nil {
		logger.Debug("HTTP", "Add %q rejected: %v", body.Name, err)
		writeJSON(w, map[string]any{"success": false})
		return
	}
	logger.Info("HTTP", "Added %s (quantity %d)", line.Name, line.Quantity)
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleCartUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := lineID(w, r)
	if !ok {
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONWithStatus(w, failure("invalid request body"), http.StatusBadRequest)
		return
	}
	action, err := cart.ParseAction(body.Action)
	if err != nil {
		writeJSON(w, failure(err.Error()))
		return
	}
	s.applyAction(w, id, action)
}

func (s *Server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := lineID(w, r)
	if !ok {
		return
	}
	s.applyAction(w, id, cart.Remove)
}

func (s *Server) applyAction(w http.ResponseWriter, id int, action cart.Action) {
	if _, err := s.deps.Store.Apply(id, action); err != nil {
		// invariant violations are reported, never fatal
		writeJSON(w, failure(err.Error()))
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleCartClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Store.Clear()
	logger.Info("HTTP", "Cart cleared")
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Catalog.Search(r.URL.Query().Get("query")))
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Checkout()
	payload := map[string]any{
		"success": true,
		"message": checkoutMessage,
		"total":   snap.Total,
	}
	if s.deps.Receipts != nil {
		rec, err := s.deps.Receipts.Record(r.Context(), snap)
		if err != nil {
			logger.Error("HTTP", "Failed to record receipt: %v", err)
		} else {
			payload["receipt_id"] = rec.ID
		}
	}
	logger.Info("HTTP", "Checkout: %d items, total %.2f", snap.ItemCount, snap.Total)
	writeJSON(w, payload)
}

func (s *Server) handleCheckoutPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := checkoutTemplate.Execute(w, s.deps.Store.Snapshot()); err != nil {
		logger.Warn("HTTP", "Render checkout page: %v", err)
	}
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Camera.Start(r.Context()); err != nil {
		logger.Warn("HTTP", "Camera start failed: %v", err)
		writeJSON(w, failure("Cannot Access Webcam"))
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Camera.Stop(); err != nil {
		logger.Warn("HTTP", "Camera release reported: %v", err)
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot()
	payload := map[string]any{
		"pipeline": s.deps.Camera.Status(),
		"cart": map[string]any{
			"lines":      len(snap.Lines),
			"item_count": snap.ItemCount,
			"total":      snap.Total,
		},
		"pending_events": s.deps.Queue.Len(),
		"timestamp":      float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func lineID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func eventPayload(ev cart.Event) map[string]any {
	return map[string]any{
		"action": string(ev.Kind),
		"item": map[string]any{
			"id":          ev.Item.ID,
			"name":        ev.Item.Name,
			"price":       ev.Item.Price,
			"description": ev.Item.Description,
			"quantity":    ev.Item.Quantity,
		},
	}
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"phCanvas/internal/api/middleware"
	"phCanvas/internal/cache"
	"phCanvas/internal/canvas"
	"phCanvas/internal/config"
	"phCanvas/internal/errcode"
	"phCanvas/internal/retry"
	"phCanvas/internal/session"
	"phCanvas/internal/template"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() *config.Config {
	return &config.Config{
		Canvas: config.CanvasConfig{
			WidthMM:         85,
			HeightMM:        55,
			DPI:             96,
			BleedMM:         3,
			SafeAreaMM:      5,
			BackgroundColor: "#ffffff",
		},
		Internal: config.InternalConfig{Secret: "test-secret"},
		Session:  config.SessionConfig{IdleTTL: time.Hour},
	}
}

// newTestApp wires the design routes against an in-memory stack and a
// stub template catalog.
func newTestApp(t *testing.T, catalog http.HandlerFunc) (*gin.Engine, *session.Manager) {
	t.Helper()
	return newTestAppSink(t, catalog, nil)
}

func newTestAppSink(t *testing.T, catalog http.HandlerFunc, sinkFor func(string) canvas.EventSink) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	logger := discardLogger()
	sessions := session.NewManager(cfg.Session.IdleTTL, logger)
	factory := canvas.NewFactory(nil, logger)

	var repo *template.Repository
	if catalog != nil {
		srv := httptest.NewServer(catalog)
		t.Cleanup(srv.Close)
		repo = template.NewRepository(srv.URL, cache.NewMemory(), logger, template.Options{
			Client: srv.Client(),
		})
	} else {
		fast := retry.Policy{MaxAttempts: 1}
		repo = template.NewRepository("http://127.0.0.1:0", cache.NewMemory(), logger, template.Options{Policy: &fast})
	}

	h := NewDesignHandler(sessions, factory, repo, nil, nil, sinkFor, cfg, logger)

	router := gin.New()
	router.POST("/v1/sessions", h.CreateSession)
	router.GET("/v1/sessions/:id", h.GetSession)
	router.DELETE("/v1/sessions/:id", h.DestroySession)
	router.POST("/v1/sessions/:id/sides/:side/activate", h.ActivateSide)
	router.POST("/v1/sessions/:id/objects", h.AddObject)
	router.PATCH("/v1/sessions/:id/objects/:objectID", h.ModifyObject)
	router.DELETE("/v1/sessions/:id/objects/:objectID", h.RemoveObject)
	router.POST("/v1/sessions/:id/selection/:objectID", h.SelectObject)
	router.POST("/v1/sessions/:id/undo", h.Undo)
	router.POST("/v1/sessions/:id/template", h.ApplyTemplate)
	router.GET("/v1/sessions/:id/design", h.GetDesignData)

	internal := router.Group("/v1/internal")
	internal.Use(middleware.InternalSecretMiddleware(cfg.Internal.Secret))
	internal.GET("/sessions/:id/snapshot", h.InternalSnapshot)

	return router, sessions
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/sessions", gin.H{"design_type": "business-card"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string   `json:"session_id"`
		Sides     []string `json:"sides"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(resp.Sides) != 2 {
		t.Fatalf("default session should have 2 sides, got %v", resp.Sides)
	}
	return resp.SessionID
}

func TestSessionLifecycle(t *testing.T) {
	router, _ := newTestApp(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("destroy status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("destroyed session should 404, got %d", w.Code)
	}
}

func TestAddObjectAppearsInDesignData(t *testing.T) {
	router, _ := newTestApp(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/objects", gin.H{
		"object": gin.H{"type": "rect", "left": 10.0, "top": 20.0, "width": 100.0, "height": 50.0, "fill": "#336699"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add object status = %d: %s", w.Code, w.Body.String())
	}
	var added struct {
		ObjectID string `json:"object_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode add response: %v", err)
	}

	w = doJSON(t, router, http.MethodGet, "/v1/sessions/"+id+"/design", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("design data status = %d", w.Code)
	}
	var data canvas.DesignData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode design data: %v", err)
	}
	front := data.Data["front"]
	if front == nil || len(front.Objects) != 1 {
		t.Fatalf("front side should carry the added object: %+v", front)
	}
	if front.Objects[0].ID != added.ObjectID {
		t.Fatalf("object id mismatch: %s vs %s", front.Objects[0].ID, added.ObjectID)
	}
}

func TestAddInvalidObjectRejected(t *testing.T) {
	router, _ := newTestApp(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/objects", gin.H{
		"object": gin.H{"type": "hologram"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown object type should 400, got %d", w.Code)
	}
}

func TestActivateUnknownSide(t *testing.T) {
	router, _ := newTestApp(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/sides/inside/activate", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown side should 404, got %d", w.Code)
	}
}

func TestModifyAndUndo(t *testing.T) {
	router, _ := newTestApp(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/objects", gin.H{
		"object": gin.H{"type": "circle", "left": 5.0, "top": 5.0, "radius": 10.0},
	})
	var added struct {
		ObjectID string `json:"object_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode add response: %v", err)
	}

	w = doJSON(t, router, http.MethodPatch, "/v1/sessions/"+id+"/objects/"+added.ObjectID, gin.H{
		"props": gin.H{"left": 42.0},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("modify status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/sessions/"+id+"/design", nil)
	var data canvas.DesignData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode design data: %v", err)
	}
	if got := data.Data["front"].Objects[0].Left; got != 42 {
		t.Fatalf("left = %v, want 42", got)
	}

	w = doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/undo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("undo status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/v1/sessions/"+id+"/design", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode design data: %v", err)
	}
	if got := data.Data["front"].Objects[0].Left; got != 5 {
		t.Fatalf("after undo left = %v, want 5", got)
	}
}

func TestApplyTemplateFromCatalog(t *testing.T) {
	catalog := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "tpl-1", "name": "Clean card",
			"templateData": {"objects": [
				{"type": "rect", "left": 0, "top": 0, "width": 200, "height": 100, "fill": "#ffffff"},
				{"type": "i-text", "left": 20, "top": 30, "text": "Your name", "fontSize": 18}
			], "background": "#fafafa", "width": 400, "height": 300}
		}`)
	}
	router, _ := newTestApp(t, catalog)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/template", gin.H{
		"template_id": "tpl-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("apply template status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/sessions/"+id+"/design", nil)
	var data canvas.DesignData
	if err := json.Unmarshal(w.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode design data: %v", err)
	}
	if got := len(data.Data["front"].Objects); got != 2 {
		t.Fatalf("front should carry 2 template objects, got %d", got)
	}
}

func TestApplyTemplateFallbackEmitsLoadFailed(t *testing.T) {
	var events []canvas.Event
	sinkFor := func(string) canvas.EventSink {
		return canvas.SinkFunc(func(e canvas.Event) { events = append(events, e) })
	}
	router, _ := newTestAppSink(t, nil, sinkFor)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/template", gin.H{
		"template_id": "tpl-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("apply template status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != errcode.NetworkFallback {
		t.Fatalf("response code = %d, want %d", resp.Code, errcode.NetworkFallback)
	}

	var failed *canvas.Event
	for i := range events {
		if events[i].Kind == canvas.EventTemplateLoadFailed {
			failed = &events[i]
		}
	}
	if failed == nil {
		t.Fatalf("no %s event among %d emitted", canvas.EventTemplateLoadFailed, len(events))
	}
	if failed.Detail["template_id"] != "tpl-1" {
		t.Fatalf("event detail = %+v, want template_id tpl-1", failed.Detail)
	}
}

func TestApplyTemplateReportsDroppedRecords(t *testing.T) {
	catalog := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "tpl-2", "name": "Half broken",
			"templateData": {"objects": [
				{"type": "rect", "left": 0, "top": 0, "width": 200, "height": 100, "fill": "#ffffff"},
				{"type": "hologram", "left": 5, "top": 5}
			], "background": "#ffffff", "width": 400, "height": 300}
		}`)
	}
	router, _ := newTestApp(t, catalog)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/sessions/"+id+"/template", gin.H{
		"template_id": "tpl-2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("apply template status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code    int `json:"code"`
		Objects int `json:"objects"`
		Dropped int `json:"dropped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != errcode.DataRepaired {
		t.Fatalf("response code = %d, want %d", resp.Code, errcode.DataRepaired)
	}
	if resp.Objects != 1 || resp.Dropped != 1 {
		t.Fatalf("objects=%d dropped=%d, want 1/1", resp.Objects, resp.Dropped)
	}
}

func TestInternalSnapshotRequiresSecret(t *testing.T) {
	router, _ := newTestApp(t, nil)
	id := createSession(t, router)

	path := "/v1/internal/sessions/" + id + "/snapshot?side=front"
	w := doJSON(t, router, http.MethodGet, path, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret should 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Internal-Secret", "test-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d: %s", rec.Code, rec.Body.String())
	}
	var snap canvas.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Side != "front" {
		t.Fatalf("snapshot side = %q, want front", snap.Side)
	}
}

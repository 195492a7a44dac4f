package canvas

import (
	"errors"
	"fmt"
	"testing"
)

func testGeometry() Geometry {
	// 85×55 mm 名片面，96 dpi 让像素量保持轻巧。
	return Geometry{WidthMM: 85, HeightMM: 55, DPI: 96, BleedMM: 3, SafeAreaMM: 3}
}

func newTestRegistry(t *testing.T, events *[]Event) *Registry {
	t.Helper()
	sink := EventSink(NopSink{})
	if events != nil {
		sink = SinkFunc(func(e Event) { *events = append(*events, e) })
	}
	return NewRegistry("business-card", sink, discardLogger())
}

func mustSurface(t *testing.T, r *Registry, side string) *Surface {
	t.Helper()
	s, err := r.CreateSurface(side, testGeometry(), "#ffffff")
	if err != nil {
		t.Fatalf("create %s: %v", side, err)
	}
	return s
}

func TestCreateSurfaceIdempotent(t *testing.T) {
	r := newTestRegistry(t, nil)
	first := mustSurface(t, r, "front")
	second := mustSurface(t, r, "front")
	if first != second {
		t.Fatal("duplicate side id must reuse the existing surface")
	}
	if len(r.Sides()) != 1 {
		t.Fatalf("expected 1 side, got %v", r.Sides())
	}
}

func TestSwitchActiveToUnknownSide(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")

	err := r.SwitchActive("inside")
	if !errors.Is(err, ErrSurfaceNotFound) {
		t.Fatalf("expected ErrSurfaceNotFound, got %v", err)
	}
	if got := len(r.Sides()); got != 1 {
		t.Fatalf("a failed switch must not create surfaces, got %d sides", got)
	}
}

func TestSwitchActiveEmitsSideChanged(t *testing.T) {
	var events []Event
	r := newTestRegistry(t, &events)
	mustSurface(t, r, "front")
	mustSurface(t, r, "back")

	if err := r.SwitchActive("back"); err != nil {
		t.Fatalf("switch: %v", err)
	}

	var found *Event
	for i := range events {
		if events[i].Kind == EventSideChanged {
			found = &events[i]
		}
	}
	if found == nil {
		t.Fatal("expected side.changed event")
	}
	if found.Detail["old"] != "front" || found.Detail["new"] != "back" {
		t.Fatalf("side.changed must carry old and new ids, got %v", found.Detail)
	}
}

func populate(t *testing.T, r *Registry, side string, n int) {
	t.Helper()
	err := r.WithSurface(side, func(s *Surface) error {
		for i := 0; i < n; i++ {
			s.AddObject(&Object{ID: fmt.Sprintf("%s-%d", side, i), Type: TypeRectangle, ScaleX: 1, ScaleY: 1, Opacity: 1, Selectable: true})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("populate %s: %v", side, err)
	}
}

func countObjects(t *testing.T, r *Registry, side string) int {
	t.Helper()
	var n int
	if err := r.WithSurface(side, func(s *Surface) error {
		n = s.ObjectCount()
		return nil
	}); err != nil {
		t.Fatalf("count %s: %v", side, err)
	}
	return n
}

func TestSwitchingPreservesEachSurface(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")
	mustSurface(t, r, "back")
	populate(t, r, "front", 3)
	populate(t, r, "back", 5)

	// 往返切换 10 次，每次检查两面的对象数都丝毫未变。
	for i := 0; i < 10; i++ {
		side := "front"
		if i%2 == 1 {
			side = "back"
		}
		if err := r.SwitchActive(side); err != nil {
			t.Fatalf("switch %d: %v", i, err)
		}
		if got := countObjects(t, r, "front"); got != 3 {
			t.Fatalf("iteration %d: front has %d objects, want 3", i, got)
		}
		if got := countObjects(t, r, "back"); got != 5 {
			t.Fatalf("iteration %d: back has %d objects, want 5", i, got)
		}
	}
}

func TestSwitchRoundTripKeepsObjectList(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")
	mustSurface(t, r, "back")
	populate(t, r, "front", 3)

	before, err := r.DesignData("front")
	if err != nil {
		t.Fatalf("snapshot before: %v", err)
	}

	for _, side := range []string{"back", "front"} {
		if err := r.SwitchActive(side); err != nil {
			t.Fatalf("switch %s: %v", side, err)
		}
	}

	after, err := r.DesignData("front")
	if err != nil {
		t.Fatalf("snapshot after: %v", err)
	}
	if len(before.Objects) != len(after.Objects) {
		t.Fatalf("object count changed across round trip: %d → %d", len(before.Objects), len(after.Objects))
	}
	for i := range before.Objects {
		if before.Objects[i].ID != after.Objects[i].ID {
			t.Fatalf("object order changed at %d: %s → %s", i, before.Objects[i].ID, after.Objects[i].ID)
		}
	}
}

func TestDesignDataExcludesSystemObjects(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")

	err := r.WithSurface("front", func(s *Surface) error {
		s.AddObject(&Object{ID: "user-1", Type: TypeText, Opacity: 1, Selectable: true})
		s.AddObject(&Object{ID: "grid-1", Type: TypePath, System: true})
		s.AddObject(&Object{ID: "user-2", Type: TypeCircle, Opacity: 1, Selectable: true})
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap, err := r.DesignData("front")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Objects) != 2 {
		t.Fatalf("expected 2 exported objects, got %d", len(snap.Objects))
	}
	for _, obj := range snap.Objects {
		if obj.System {
			t.Fatalf("system object %q leaked into snapshot", obj.ID)
		}
	}
}

func TestAllDesignDataShape(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")
	mustSurface(t, r, "back")
	populate(t, r, "back", 2)

	all := r.AllDesignData()
	if all.Type != "business-card" {
		t.Fatalf("expected design type label, got %q", all.Type)
	}
	if len(all.Data) != 2 {
		t.Fatalf("expected both sides, got %d", len(all.Data))
	}
	if len(all.Data["back"].Objects) != 2 {
		t.Fatalf("back snapshot lost objects: %d", len(all.Data["back"].Objects))
	}
}

func TestReinitSurfacesKeepsObjectsAndBuffers(t *testing.T) {
	r := newTestRegistry(t, nil)
	front := mustSurface(t, r, "front")
	mustSurface(t, r, "back")
	populate(t, r, "front", 3)

	if err := r.ReinitSurfaces(); err != nil {
		t.Fatalf("ReinitSurfaces: %v", err)
	}
	if got := countObjects(t, r, "front"); got != 3 {
		t.Fatalf("object list must survive reinit, got %d", got)
	}
	w, h := front.PixelSize()
	g := testGeometry()
	if w != g.PixelWidth() || h != g.PixelHeight() {
		t.Fatalf("rebuilt buffer is %dx%d, want %dx%d", w, h, g.PixelWidth(), g.PixelHeight())
	}
}

func TestDestroyActivePromotesNext(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")
	mustSurface(t, r, "back")

	if err := r.DestroySurface("front"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	active := r.Active()
	if active == nil || active.ID() != "back" {
		t.Fatalf("expected back to become active")
	}
	if !active.Visible() {
		t.Fatal("promoted surface must be shown")
	}
}

func TestUndoSurvivesSideSwitch(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustSurface(t, r, "front")
	mustSurface(t, r, "back")
	populate(t, r, "front", 2)

	// 切走再切回，撤销上下文必须还在。
	if err := r.SwitchActive("back"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := r.SwitchActive("front"); err != nil {
		t.Fatalf("switch back: %v", err)
	}

	if err := r.WithSurface("front", func(s *Surface) error {
		if !s.Undo() {
			t.Fatal("expected undo to roll back the last add")
		}
		if s.ObjectCount() != 1 {
			t.Fatalf("expected 1 object after undo, got %d", s.ObjectCount())
		}
		return nil
	}); err != nil {
		t.Fatalf("with surface: %v", err)
	}
}

package canvas

import (
	"image"
	"testing"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	s, err := newSurface("front", testGeometry(), "#ffffff", NopSink{}, discardLogger())
	if err != nil {
		t.Fatalf("new surface: %v", err)
	}
	return s
}

func imagesEqual(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ar, ag, ab, aa := a.At(x, y).RGBA()
			br, bg, bb, ba := b.At(x, y).RGBA()
			if ar != br || ag != bg || ab != bb || aa != ba {
				return false
			}
		}
	}
	return true
}

func isBlank(img image.Image) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				return false
			}
		}
	}
	return true
}

func TestOverlayTracksHostDimensions(t *testing.T) {
	s := newTestSurface(t)

	ops := []func() error{
		func() error { return s.SetZoom(1.5) },
		func() error { return s.PanBy(12, -7) },
		func() error {
			g := s.Geometry()
			g.WidthMM = 105
			g.HeightMM = 148
			return s.Resize(g)
		},
		func() error { return s.SetZoom(0.5) },
		func() error { return s.Render() },
	}

	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		hw, hh := s.PixelSize()
		ow, oh := s.Overlay().PixelSize()
		if hw != ow || hh != oh {
			t.Fatalf("op %d: overlay %dx%d diverged from host %dx%d", i, ow, oh, hw, hh)
		}
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	s := newTestSurface(t)
	g := s.Overlay()

	if err := g.Sync(); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first := g.ctx.Image()

	if err := g.Sync(); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	second := g.ctx.Image()

	if !imagesEqual(first, second) {
		t.Fatal("two syncs without a geometry change must produce identical pixels")
	}
}

func TestGuidesDrawnWhenVisible(t *testing.T) {
	s := newTestSurface(t)
	g := s.Overlay()

	if err := g.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if isBlank(g.ctx.Image()) {
		t.Fatal("visible overlay should contain guide strokes")
	}
}

func TestHideClearsOverlayBuffer(t *testing.T) {
	s := newTestSurface(t)
	g := s.Overlay()

	if err := g.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	before := s.ObjectCount()

	if err := g.SetVisible(false); err != nil {
		t.Fatalf("hide: %v", err)
	}
	if !isBlank(g.ctx.Image()) {
		t.Fatal("hidden overlay must not keep stale guide pixels")
	}
	if s.ObjectCount() != before {
		t.Fatal("toggling guides must not touch the host object list")
	}

	if err := g.SetVisible(true); err != nil {
		t.Fatalf("show: %v", err)
	}
	if isBlank(g.ctx.Image()) {
		t.Fatal("re-shown overlay must redraw guides")
	}
}

func TestGuideOffsetsFromGeometry(t *testing.T) {
	// px = mm × dpi / 25.4
	g := Geometry{WidthMM: 85, HeightMM: 55, DPI: 300, BleedMM: 3, SafeAreaMM: 5}

	if got := g.PixelWidth(); got != 1004 {
		t.Fatalf("pixel width: expected 1004, got %d", got)
	}
	if got := g.PixelHeight(); got != 650 {
		t.Fatalf("pixel height: expected 650, got %d", got)
	}
	if got := g.BleedPx(); got < 35.42 || got > 35.44 {
		t.Fatalf("bleed px: expected ≈35.43, got %g", got)
	}
	if got := g.SafeAreaPx(); got < 59.0 || got > 59.1 {
		t.Fatalf("safe px: expected ≈59.05, got %g", got)
	}
}

func TestSystemObjectsNotSelectable(t *testing.T) {
	s := newTestSurface(t)
	s.AddObject(&Object{ID: "grid", Type: TypePath, System: true, Selectable: true})
	s.AddObject(&Object{ID: "headline", Type: TypeText, Opacity: 1, Selectable: true})

	if s.Select("grid") {
		t.Fatal("system decoration must be excluded from selection")
	}
	if !s.Select("headline") {
		t.Fatal("user content must be selectable")
	}
}

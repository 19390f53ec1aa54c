package display

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// errClosed ends the game loop when the user presses Escape.
var errClosed = errors.New("display closed")

// EbitenDisplay renders the remote screen using Ebitengine.
type EbitenDisplay struct {
	title string

	mu      sync.Mutex
	frame   *image.RGBA
	dirty   bool
	stats   streamStats
	overlay bool

	ebitenImage *ebiten.Image
}

// streamStats tracks sequence numbers to count lost frames.
type streamStats struct {
	received uint64
	lost     uint64
	lastSeq  uint64
}

func (s *streamStats) observe(seq uint64) {
	s.received++
	if s.lastSeq != 0 && seq > s.lastSeq+1 {
		s.lost += seq - s.lastSeq - 1
	}
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

// NewEbitenDisplay creates an Ebitengine-based display.
func NewEbitenDisplay(title string) *EbitenDisplay {
	return &EbitenDisplay{title: title}
}

// SetFrame copies img for the next draw (called from network goroutine).
func (d *EbitenDisplay) SetFrame(img *image.RGBA, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == nil || d.frame.Rect != img.Rect {
		d.frame = image.NewRGBA(img.Rect)
	}
	copy(d.frame.Pix, img.Pix)
	d.dirty = true
	d.stats.observe(seq)
}

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (d *EbitenDisplay) Run() error {
	ebiten.SetWindowSize(1280, 720)
	ebiten.SetWindowTitle(d.title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	if err := ebiten.RunGame(d); err != nil && !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

// --- ebiten.Game interface ---

func (d *EbitenDisplay) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return errClosed
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		d.mu.Lock()
		d.overlay = !d.overlay
		d.mu.Unlock()
	}
	return nil
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	d.mu.Lock()
	frame, dirty, stats, overlay := d.frame, d.dirty, d.stats, d.overlay
	if frame != nil && dirty {
		fw, fh := frame.Rect.Dx(), frame.Rect.Dy()
		if d.ebitenImage == nil || d.ebitenImage.Bounds().Dx() != fw || d.ebitenImage.Bounds().Dy() != fh {
			d.ebitenImage = ebiten.NewImage(fw, fh)
		}
		d.ebitenImage.WritePixels(frame.Pix)
		d.dirty = false
	}
	d.mu.Unlock()

	if d.ebitenImage != nil {
		sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
		b := d.ebitenImage.Bounds()
		scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), float64(b.Dx()), float64(b.Dy()))

		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(offsetX, offsetY)
		op.Filter = ebiten.FilterLinear
		screen.DrawImage(d.ebitenImage, op)
	}

	if overlay || frame == nil {
		ebitenutil.DebugPrint(screen, overlayText(stats, frame, ebiten.ActualFPS()))
	}
}

func (d *EbitenDisplay) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

func overlayText(s streamStats, frame *image.RGBA, fps float64) string {
	if frame == nil {
		return "waiting for frames..."
	}
	return fmt.Sprintf("%dx%d  frames %d  lost %d  %.0f fps",
		frame.Rect.Dx(), frame.Rect.Dy(), s.received, s.lost, fps)
}

// aspectFitTransform returns scale and offsets to fit frame into view with letterboxing.
func aspectFitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	if frameW <= 0 || frameH <= 0 {
		return 1, 0, 0
	}
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}

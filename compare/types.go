package compare

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/wirediff/fault"
	"github.com/hazyhaar/wirediff/horosafe"
	"github.com/hazyhaar/wirediff/imaging"
	"github.com/hazyhaar/wirediff/scoring"
)

// Viewport limits. Larger canvases would not fit in memory once decoded,
// normalized and diffed.
const (
	MaxViewportSide   = 16384
	MaxViewportPixels = 1 << 26
)

// Request asks for one wireframe-versus-page comparison.
type Request struct {
	ScreenName   string           `json:"screen_name" yaml:"screen_name"`
	URL          string           `json:"url" yaml:"url"`
	Viewport     imaging.Viewport `json:"viewport" yaml:"viewport"`
	DocumentPath string           `json:"pdf_path" yaml:"pdf_path"`
	// PageNumber is 1-indexed; zero means 1.
	PageNumber int `json:"page_number,omitempty" yaml:"page_number,omitempty"`
}

// Normalize returns r with defaults applied.
func (r Request) Normalize() Request {
	if r.PageNumber == 0 {
		r.PageNumber = 1
	}
	return r
}

// Validate checks r. Errors are KindInvalid.
func (r Request) Validate() error {
	var errs []error
	if r.ScreenName == "" {
		errs = append(errs, errors.New("screen_name is required"))
	}
	if r.DocumentPath == "" {
		errs = append(errs, errors.New("pdf_path is required"))
	}
	if r.PageNumber < 0 {
		errs = append(errs, fmt.Errorf("page_number must be positive, got %d", r.PageNumber))
	}
	if err := r.Viewport.Validate(); err != nil {
		errs = append(errs, err)
	} else if r.Viewport.Width > MaxViewportSide || r.Viewport.Height > MaxViewportSide ||
		r.Viewport.Pixels() > MaxViewportPixels {
		errs = append(errs, fmt.Errorf("viewport %s exceeds %d per side or %d pixels",
			r.Viewport, MaxViewportSide, MaxViewportPixels))
	}
	if r.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if _, err := horosafe.CheckScheme(r.URL, "http", "https", "file"); err != nil {
		errs = append(errs, fmt.Errorf("url: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fault.Wrap(fault.KindInvalid, "validate", "invalid request", err)
	}
	return nil
}

// Status is the outcome of one comparison.
type Status string

const (
	// StatusCompleted: a measurement was produced, whatever the pixel count.
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the immutable outcome of one comparison. DiffPixels is -1 when
// the comparison failed.
type Result struct {
	ScreenName    string           `json:"screen_name"`
	URL           string           `json:"url"`
	Viewport      imaging.Viewport `json:"viewport"`
	WireframePath string           `json:"wireframe_path,omitempty"`
	CapturePath   string           `json:"capture_path,omitempty"`
	DiffPath      string           `json:"diff_path,omitempty"`
	DiffPixels    int              `json:"diff_pixels"`
	TotalPixels   int              `json:"total_pixels"`
	Status        Status           `json:"status"`
	Error         string           `json:"error,omitempty"`
	ErrorKind     fault.Kind       `json:"error_kind,omitempty"`
	Analysis      *scoring.Verdict `json:"analysis,omitempty"`
	AnalysisError string           `json:"analysis_error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration_ns"`
}

// Failed reports whether the comparison failed.
func (r Result) Failed() bool { return r.Status == StatusFailed }

// DiffRatio is DiffPixels over TotalPixels, or 0 when nothing was measured.
func (r Result) DiffRatio() float64 {
	if r.DiffPixels <= 0 || r.TotalPixels == 0 {
		return 0
	}
	return float64(r.DiffPixels) / float64(r.TotalPixels)
}

func newResult(req Request) Result {
	return Result{
		ScreenName: req.ScreenName,
		URL:        req.URL,
		Viewport:   req.Viewport,
		DiffPixels: -1,
		Status:     StatusFailed,
		StartedAt:  time.Now(),
	}
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.DiffPixels = -1
	r.TotalPixels = 0
	r.DiffPath = ""
	r.Error = err.Error()
	r.ErrorKind = fault.KindOf(err)
}

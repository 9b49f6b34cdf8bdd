package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/session"
)

// Format is the fixed list of accepted screenshot output formats.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Mode selects the screenshot region strategy.
type Mode string

const (
	ModeViewport Mode = "viewport" // default
	ModeFullPage Mode = "full-page"
	ModeRegion   Mode = "region"
	ModeElement  Mode = "element"
)

// Rect is an explicit capture region in CSS pixels.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Options configures Screenshot.Capture.
type Options struct {
	Format  Format
	Quality *int // only accepted for jpeg/webp, 0-100
	Mode    Mode
	Region  Rect // used when Mode == ModeRegion
	Element Rect // bounding box, used when Mode == ModeElement
	Padding int  // optional element padding, clamped so x/y >= 0
}

// Screenshot produces raw image bytes from one page session. The caller is
// responsible for any file I/O (an external collaborator per the scope).
type Screenshot struct {
	sess *session.Session
}

// NewScreenshot creates a Screenshot bound to sess.
func NewScreenshot(sess *session.Session) *Screenshot {
	return &Screenshot{sess: sess}
}

func validateOptions(opts Options) error {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}
	if opts.Format != FormatPNG && opts.Format != FormatJPEG && opts.Format != FormatWebP {
		return models.NewDriverError(models.ErrStepValidation, fmt.Sprintf("unsupported screenshot format %q", opts.Format), nil)
	}
	if opts.Quality != nil {
		if opts.Format == FormatPNG {
			return models.NewDriverError(models.ErrStepValidation, "quality is not accepted for png", nil)
		}
		if *opts.Quality < 0 || *opts.Quality > 100 {
			return models.NewDriverError(models.ErrStepValidation, "quality must be within [0,100]", nil)
		}
	}
	return nil
}

type captureScreenshotResult struct {
	Data string `json:"data"` // base64
}

// Capture takes a screenshot per opts and returns raw decoded bytes.
func (s *Screenshot) Capture(ctx context.Context, opts Options) ([]byte, error) {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}
	if opts.Mode == "" {
		opts.Mode = ModeViewport
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	params := map[string]any{"format": string(opts.Format)}
	if opts.Quality != nil {
		params["quality"] = *opts.Quality
	}

	clip, err := s.resolveClip(ctx, opts)
	if err != nil {
		return nil, err
	}
	if clip != nil {
		params["clip"] = clip
	}

	raw, err := s.sess.Send(ctx, "Page.captureScreenshot", params, 0)
	if err != nil {
		return nil, err
	}

	var res captureScreenshotResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, models.NewDriverError(models.ErrProtocol, "decode captureScreenshot result", err)
	}

	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, models.NewDriverError(models.ErrProtocol, "decode screenshot base64", err)
	}
	return data, nil
}

type clipRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

type layoutMetricsResult struct {
	CSSContentSize struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"cssContentSize"`
}

func (s *Screenshot) resolveClip(ctx context.Context, opts Options) (*clipRect, error) {
	switch opts.Mode {
	case ModeViewport:
		return nil, nil
	case ModeRegion:
		return &clipRect{X: opts.Region.X, Y: opts.Region.Y, Width: opts.Region.Width, Height: opts.Region.Height, Scale: 1}, nil
	case ModeElement:
		r := opts.Element
		pad := float64(opts.Padding)
		x := r.X - pad
		y := r.Y - pad
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}
		return &clipRect{X: x, Y: y, Width: r.Width + 2*pad, Height: r.Height + 2*pad, Scale: 1}, nil
	case ModeFullPage:
		raw, err := s.sess.Send(ctx, "Page.getLayoutMetrics", nil, 0)
		if err != nil {
			return nil, err
		}
		var lm layoutMetricsResult
		if err := json.Unmarshal(raw, &lm); err != nil {
			return nil, models.NewDriverError(models.ErrProtocol, "decode getLayoutMetrics result", err)
		}
		return &clipRect{
			X: lm.CSSContentSize.X, Y: lm.CSSContentSize.Y,
			Width: lm.CSSContentSize.Width, Height: lm.CSSContentSize.Height, Scale: 1,
		}, nil
	default:
		return nil, models.NewDriverError(models.ErrStepValidation, fmt.Sprintf("unsupported screenshot mode %q", opts.Mode), nil)
	}
}

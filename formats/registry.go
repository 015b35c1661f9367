// Package formats holds the vendor probe registry and dispatch
// algorithm (C6). Vendor packages (formats/leica, formats/aperio, ...)
// self-register via blank import and init(), mirroring
// cocosip-go-dicom-codec/codec's Register/init() pattern; this package
// never imports them directly.
package formats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cocosip/go-wsi/internal/core"
	"github.com/cocosip/go-wsi/internal/diskio"
	"github.com/cocosip/go-wsi/internal/tiff"
)

// TIFFProbe is implemented by vendors whose container is a TIFF/BigTIFF
// file. Probe is handed an already-opened tiff.Reader so it never
// re-walks the IFD chain itself.
type TIFFProbe interface {
	Name() string
	ProbeTIFF(file *diskio.File, rd *tiff.Reader) (*core.Descriptor, error)
}

// Probe is implemented by vendors whose container is not a TIFF file
// (DICOM, SQLite-indexed, ...).
type Probe interface {
	Name() string
	ProbeFile(file *diskio.File) (*core.Descriptor, error)
}

var (
	mu          sync.Mutex
	tiffProbes  []TIFFProbe
	otherProbes []Probe
)

// RegisterTIFF adds a TIFF-container vendor to the end of the probe
// order. Call from the vendor package's init().
func RegisterTIFF(p TIFFProbe) {
	mu.Lock()
	defer mu.Unlock()
	tiffProbes = append(tiffProbes, p)
}

// Register adds a non-TIFF-container vendor to the end of the probe
// order. Call from the vendor package's init().
func Register(p Probe) {
	mu.Lock()
	defer mu.Unlock()
	otherProbes = append(otherProbes, p)
}

// ProbeFile runs the full C6 dispatch algorithm: try to open the file
// as a TIFF; if that succeeds, try each TIFF vendor in registration
// order; then, if none accepted, try each non-TIFF vendor in
// registration order. When no vendor accepts, the last error other
// than FormatNotSupported is returned with its own kind, or a generic
// FormatNotSupported error if every vendor declined.
// Returns the accepting vendor's Descriptor, name, and the open File
// backing it — the caller (wsi.Open) takes ownership of that File for
// the life of the Slide, since the Descriptor's Areas hold a
// *tiff.Reader (or equivalent) reading through it. The File is closed
// here only when no vendor accepts.
func ProbeFile(path string, logger *slog.Logger) (*core.Descriptor, string, *diskio.File, error) {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	file, err := diskio.Open(path)
	if err != nil {
		return nil, "", nil, err
	}

	mu.Lock()
	tp := append([]TIFFProbe(nil), tiffProbes...)
	op := append([]Probe(nil), otherProbes...)
	mu.Unlock()

	var candidate error

	if rd, tiffErr := tiff.Open(file); tiffErr == nil {
		for _, p := range tp {
			logger.Debug("probing vendor", "vendor", p.Name(), "path", path)
			desc, err := p.ProbeTIFF(file, rd)
			if err == nil {
				logger.Info("slide format recognised", "vendor", p.Name(), "path", path)
				return desc, p.Name(), file, nil
			}
			if core.IsFormatNotSupported(err) {
				logger.Debug("vendor declined", "vendor", p.Name(), "path", path)
				continue
			}
			logger.Warn("vendor probe failed", "vendor", p.Name(), "path", path, "error", err)
			candidate = core.Prefix(err, "Vendor %s declined", p.Name())
		}
	}

	for _, p := range op {
		logger.Debug("probing vendor", "vendor", p.Name(), "path", path)
		desc, err := p.ProbeFile(file)
		if err == nil {
			logger.Info("slide format recognised", "vendor", p.Name(), "path", path)
			return desc, p.Name(), file, nil
		}
		if core.IsFormatNotSupported(err) {
			logger.Debug("vendor declined", "vendor", p.Name(), "path", path)
			continue
		}
		logger.Warn("vendor probe failed", "vendor", p.Name(), "path", path, "error", err)
		candidate = core.Prefix(err, "Vendor %s declined", p.Name())
	}

	file.Close()
	if candidate != nil {
		logger.Warn("no vendor accepted file", "path", path, "error", candidate)
		return nil, "", nil, candidate
	}
	logger.Warn("unrecognised slide format", "path", path)
	return nil, "", nil, core.FormatNotSupported("Unrecognised slide format: %s", path)
}

// discardHandler is a no-op slog.Handler used when ProbeFile is called
// without a logger, so no log call has to guard against a nil *slog.Logger.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler  { return discardHandler{} }
func (discardHandler) WithGroup(name string) slog.Handler        { return discardHandler{} }

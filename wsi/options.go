package wsi

import (
	"context"
	"log/slog"
)

// Options tunes a single Open call. The zero value is a ready-to-use
// default: no logging, a tile cache sized from each vendor's own
// tilecache.DefaultCapacityBytes.
//
// spec.md names no configuration format and no example repo models a
// slide-open option set through a config parser, so a plain struct is
// the right shape here; cmd/wsiprobe's optional --config YAML file
// populates one of these before calling Open.
type Options struct {
	// Logger receives Debug-level probe diagnostics and
	// Info/Warn-level open lifecycle events. Nil disables logging.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(nopHandler{})
}

// nopHandler discards every record; Enabled returning false lets
// callers skip message formatting entirely when logging is disabled.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler         { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler              { return nopHandler{} }

package camera

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/openchdk/gochdk/pkg/luaval"
)

var distanceRE = regexp.MustCompile(`^(\d+(?:\.\d+)?)(mm|cm|m|ft|in)$`)

// millimeters per unit
var distanceFactors = map[string]float64{
	"mm": 1,
	"cm": 100,
	"m":  1000,
	"ft": 304.8,
	"in": 25.4,
}

// CaptureOptions are the shoot parameters. Nil pointer fields mean
// the current camera value is kept. Exposure fields are APEX*96.
type CaptureOptions struct {
	ShutterSpeed *float64
	Aperture     *float64
	RealISO      *float64
	MarketISO    *float64
	ISOMode      *int

	// NDFilter: nil keeps the camera default, true swings the filter
	// in, false swings it out.
	NDFilter *bool

	// Distance is the subject distance: either a bare number in
	// millimeters or a number with one of the units mm, cm, m, ft, in.
	Distance string

	DNG bool
	Raw bool

	Wait          bool
	Stream        bool
	DownloadAfter bool
	RemoveAfter   bool
}

// DefaultCaptureOptions returns the baseline: waited, streamed JPEG.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{Wait: true, Stream: true}
}

// Validate checks the option combination locally, before any device
// interaction.
func (o *CaptureOptions) Validate() error {
	if o.RealISO != nil && o.MarketISO != nil ||
		o.RealISO != nil && o.ISOMode != nil ||
		o.MarketISO != nil && o.ISOMode != nil {
		return fmt.Errorf("%w: only one of real_iso, market_iso or isomode can be set", ErrValidation)
	}

	if o.Distance != "" {
		if _, err := parseDistance(o.Distance); err != nil {
			return err
		}
	}

	if !o.Wait && (o.Stream || o.DownloadAfter || o.RemoveAfter) {
		return fmt.Errorf("%w: cannot stream, download or remove after when wait is false", ErrValidation)
	}

	if !o.Stream && o.DNG && (o.DownloadAfter || o.RemoveAfter) {
		return fmt.Errorf("%w: non-streaming capture with download/removal is only supported for JPEG", ErrNotImplemented)
	}

	return nil
}

// parseDistance converts a distance to rounded millimeters.
func parseDistance(s string) (int64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(math.Round(v)), nil
	}
	m := distanceRE.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: distance must be a number in millimeters or carry a suffix mm, cm, m, ft or in", ErrValidation)
	}
	v, _ := strconv.ParseFloat(m[1], 64)
	return int64(math.Round(v * distanceFactors[m[2]])), nil
}

// record file formats for streaming capture
const (
	fformatJPEG = 1
	fformatRaw  = 4
	fformatDNG  = 6
)

// encode builds the options record the remote shoot routines take.
func (o *CaptureOptions) encode() luaval.Value {
	opts := map[string]luaval.Value{}

	if o.Aperture != nil {
		opts["av"] = luaval.NewInt(int64(math.Round(*o.Aperture)))
	}
	if o.RealISO != nil {
		opts["sv"] = luaval.NewInt(int64(math.Round(*o.RealISO)))
	}
	if o.MarketISO != nil {
		opts["svm"] = luaval.NewInt(int64(math.Round(*o.MarketISO)))
	}
	if o.ISOMode != nil {
		opts["isomode"] = luaval.NewInt(int64(*o.ISOMode))
	}
	if o.ShutterSpeed != nil {
		opts["tv"] = luaval.NewInt(int64(math.Round(*o.ShutterSpeed)))
	}
	if o.NDFilter != nil {
		if *o.NDFilter {
			opts["nd"] = luaval.NewInt(1)
		} else {
			opts["nd"] = luaval.NewInt(2)
		}
	}
	if o.Distance != "" {
		mm, _ := parseDistance(o.Distance)
		opts["sd"] = luaval.NewInt(mm)
	}
	if o.DNG {
		opts["dng"] = luaval.NewInt(1)
	}
	if o.DNG || o.Raw {
		opts["raw"] = luaval.NewInt(1)
	}

	if o.Stream {
		switch {
		case o.DNG:
			opts["fformat"] = luaval.NewInt(fformatDNG)
		case o.Raw:
			opts["fformat"] = luaval.NewInt(fformatRaw)
		default:
			opts["fformat"] = luaval.NewInt(fformatJPEG)
		}
	} else {
		opts["info"] = luaval.NewBool(true)
	}

	return luaval.NewTable(opts)
}

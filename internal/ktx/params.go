// Package ktx builds toktx command lines for KTX2 Basis Universal encoding.
package ktx

import (
	"fmt"
	"math/bits"
	"runtime"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"asset-packer/internal/scene"
)

// Mode selects the Basis Universal codec.
type Mode string

const (
	ModeETC1S Mode = "etc1s"
	ModeUASTC Mode = "uastc"
)

// ParseMode maps a method name to a Mode. Anything but UASTC is ETC1S.
func ParseMode(name string) Mode {
	if strings.EqualFold(strings.TrimSpace(name), string(ModeUASTC)) {
		return ModeUASTC
	}
	return ModeETC1S
}

// Encoder defaults. Tokens are emitted only for values that differ.
const (
	DefaultFilter      = "lanczos4"
	DefaultFilterScale = 1.0

	DefaultQuality     = 128
	DefaultCompression = 1

	DefaultLevel             = 2
	DefaultRDO               = 0.0
	DefaultRDODictionarySize = 32768
	DefaultRDOBlockScale     = 10.0
	DefaultRDOStdDev         = 18.0
	DefaultZstd              = 18

	// MaxPortableSize is the largest dimension some mobile GPUs accept.
	MaxPortableSize = 4096
)

// Options configures one texture encode. Start from DefaultOptions; zero or
// out-of-range values fall back to defaults.
type Options struct {
	Mode        Mode
	Filter      string
	FilterScale float64
	PowerOfTwo  bool
	// Jobs > 1 spreads encoder threads across concurrently encoded textures.
	Jobs int

	// ETC1S
	Quality      int
	Compression  int
	MaxEndpoints int
	MaxSelectors int
	RDOOff       bool
	RDOThreshold float64

	// UASTC
	Level                    int
	RDO                      float64
	RDODictionarySize        int
	RDOBlockScale            float64
	RDOStdDev                float64
	DisableRDOMultithreading bool
	Zstd                     int
}

// DefaultOptions returns the encoder defaults for mode.
func DefaultOptions(mode Mode) Options {
	return Options{
		Mode:              mode,
		Filter:            DefaultFilter,
		FilterScale:       DefaultFilterScale,
		Quality:           DefaultQuality,
		Compression:       DefaultCompression,
		Level:             DefaultLevel,
		RDO:               DefaultRDO,
		RDODictionarySize: DefaultRDODictionarySize,
		RDOBlockScale:     DefaultRDOBlockScale,
		RDOStdDev:         DefaultRDOStdDev,
		Zstd:              DefaultZstd,
	}
}

// normalized replaces unset or invalid values with defaults.
func (o Options) normalized() Options {
	if o.Mode != ModeUASTC {
		o.Mode = ModeETC1S
	}
	if strings.TrimSpace(o.Filter) == "" {
		o.Filter = DefaultFilter
	}
	if o.FilterScale <= 0 {
		o.FilterScale = DefaultFilterScale
	}
	if o.Quality < 1 || o.Quality > 255 {
		o.Quality = DefaultQuality
	}
	if o.Compression < 0 || o.Compression > 5 {
		o.Compression = DefaultCompression
	}
	if o.Level < 0 || o.Level > 4 {
		o.Level = DefaultLevel
	}
	if o.RDO < 0 {
		o.RDO = DefaultRDO
	}
	if o.RDODictionarySize <= 0 {
		o.RDODictionarySize = DefaultRDODictionarySize
	}
	if o.RDOBlockScale <= 0 {
		o.RDOBlockScale = DefaultRDOBlockScale
	}
	if o.RDOStdDev <= 0 {
		o.RDOStdDev = DefaultRDOStdDev
	}
	return o
}

// Warner receives non-fatal diagnostics.
type Warner interface {
	Warn(text string)
}

var (
	normalSlot     = glob.MustCompile("*normal*")
	colorDataSlots = glob.MustCompile("*{color,emissive}*")
)

// matchesAny reports whether any slot matches g, ignoring case.
func matchesAny(g glob.Glob, slots []string) bool {
	for _, slot := range slots {
		if g.Match(strings.ToLower(slot)) {
			return true
		}
	}
	return false
}

// CreateParams returns toktx flags for one texture. It never fails; the
// output and input paths are appended by the caller.
func CreateParams(slots []string, channels scene.Channel, size [2]int, log Warner, numTextures int, opts Options) []string {
	o := opts.normalized()
	params := []string{"--genmipmap"}

	if o.Filter != DefaultFilter {
		params = append(params, "--filter", o.Filter)
	}
	if o.FilterScale != DefaultFilterScale {
		params = append(params, "--fscale", formatFloat(o.FilterScale))
	}

	if o.Mode == ModeUASTC {
		params = append(params, "--uastc", strconv.Itoa(o.Level))
		if o.RDO != DefaultRDO {
			params = append(params, "--uastc_rdo_l", formatFloat(o.RDO))
		}
		if o.RDODictionarySize != DefaultRDODictionarySize {
			params = append(params, "--uastc_rdo_d", strconv.Itoa(o.RDODictionarySize))
		}
		if o.RDOBlockScale != DefaultRDOBlockScale {
			params = append(params, "--uastc_rdo_b", formatFloat(o.RDOBlockScale))
		}
		if o.RDOStdDev != DefaultRDOStdDev {
			params = append(params, "--uastc_rdo_s", formatFloat(o.RDOStdDev))
		}
		if o.DisableRDOMultithreading {
			params = append(params, "--uastc_rdo_m")
		}
		if o.Zstd > 0 && o.Zstd != DefaultZstd {
			params = append(params, "--zcmp", strconv.Itoa(o.Zstd))
		}
	} else {
		params = append(params, "--bcmp")
		if o.Quality != DefaultQuality {
			params = append(params, "--qlevel", strconv.Itoa(o.Quality))
		}
		if o.Compression != DefaultCompression {
			params = append(params, "--clevel", strconv.Itoa(o.Compression))
		}
		if o.MaxEndpoints > 0 {
			params = append(params, "--max_endpoints", strconv.Itoa(o.MaxEndpoints))
		}
		if o.MaxSelectors > 0 {
			params = append(params, "--max_selectors", strconv.Itoa(o.MaxSelectors))
		}
		if o.RDOOff {
			params = append(params, "--no_endpoint_rdo", "--no_selector_rdo")
		} else if o.RDOThreshold > 0 {
			t := formatFloat(o.RDOThreshold)
			params = append(params, "--endpoint_rdo_threshold", t, "--selector_rdo_threshold", t)
		}
		if matchesAny(normalSlot, slots) {
			params = append(params, "--normal_map")
		}
	}

	// Non-color data must not be gamma encoded.
	if len(slots) > 0 && !matchesAny(colorDataSlots, slots) {
		params = append(params, "--assign_oetf", "linear", "--assign_primaries", "none")
	}

	switch channels {
	case scene.ChannelR:
		params = append(params, "--target_type", "R")
	case scene.ChannelG, scene.ChannelR | scene.ChannelG:
		params = append(params, "--target_type", "RG")
	}

	var width, height int
	if o.PowerOfTwo {
		width = PreferredPowerOfTwo(size[0])
		height = PreferredPowerOfTwo(size[1])
	} else {
		if !IsPowerOfTwo(size[0]) || !IsPowerOfTwo(size[1]) {
			warn(log, fmt.Sprintf("toktx: Texture dimensions %dx%d are NPOT, and may fail in older APIs (including WebGL 1.0) on certain devices.", size[0], size[1]))
		}
		width = CeilMultipleOfFour(size[0])
		height = CeilMultipleOfFour(size[1])
	}
	if width != size[0] || height != size[1] {
		if width > MaxPortableSize || height > MaxPortableSize {
			warn(log, fmt.Sprintf("toktx: Resizing to %dx%dpx. Texture dimensions greater than %dpx may not render on some mobile devices. Resize to a lower resolution before compressing, if needed.", width, height, MaxPortableSize))
		}
		params = append(params, "--resize", fmt.Sprintf("%dx%d", width, height))
	}

	if o.Jobs > 1 && numTextures > 1 {
		cpus := runtime.NumCPU()
		threads := max(2, min(cpus, 3*cpus/numTextures))
		params = append(params, "--threads", strconv.Itoa(threads))
	}
	return params
}

func warn(log Warner, text string) {
	if log != nil {
		log.Warn(text)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IsPowerOfTwo reports whether v is a power of two. Values up to 2 count.
func IsPowerOfTwo(v int) bool {
	if v <= 2 {
		return true
	}
	return v&(v-1) == 0
}

// CeilMultipleOfFour rounds v up to a multiple of four, minimum 4.
func CeilMultipleOfFour(v int) int {
	if v <= 4 {
		return 4
	}
	if r := v % 4; r != 0 {
		return v + 4 - r
	}
	return v
}

// FloorPowerOfTwo returns the largest power of two not above v (v >= 1).
func FloorPowerOfTwo(v int) int {
	if v < 1 {
		return 1
	}
	return 1 << (bits.Len(uint(v)) - 1)
}

// CeilPowerOfTwo returns the smallest power of two not below v (v >= 1).
func CeilPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

// PreferredPowerOfTwo returns the nearer of the floor and ceiling powers of
// two, minimum 4. The ceiling wins ties.
func PreferredPowerOfTwo(v int) int {
	if v <= 4 {
		return 4
	}
	lo := FloorPowerOfTwo(v)
	hi := CeilPowerOfTwo(v)
	if hi-v > v-lo {
		return lo
	}
	return hi
}

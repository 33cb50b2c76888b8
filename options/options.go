package options

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/hysteresis"
	"github.com/hrissan/sddr/keyexchange"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/sddrerrors"
	"github.com/hrissan/sddr/sddrrand"
	"github.com/hrissan/sddr/stats"
)

type Version uint8

const (
	BT2 Version = iota
	BT2NR
	BT2PSI
	BT4
	BT4AR
)

var versionNames = []struct {
	short string
	full  string
}{
	{"bt2", "Bluetooth 2.1"},
	{"bt2nr", "Bluetooth 2.1 Name Request"},
	{"bt2psi", "Bluetooth 2.1 Private Set Intersection (PSI)"},
	{"bt4", "Bluetooth 4.0"},
	{"bt4ar", "Bluetooth 4.0 Address Resolution"},
}

func (v Version) String() string {
	if int(v) < len(versionNames) {
		return versionNames[v].short
	}
	return fmt.Sprintf("version(%d)", uint8(v))
}

func (v Version) FullName() string {
	if int(v) < len(versionNames) {
		return versionNames[v].full
	}
	return v.String()
}

func ParseVersion(s string) (Version, error) {
	for i, n := range versionNames {
		if strings.EqualFold(s, n.short) {
			return Version(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", sddrerrors.ErrInvalidVersion, s)
}

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Version) UnmarshalText(text []byte) error {
	p, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// MemoryScheme NoMemory forgets all devices every discovery cycle.
type MemoryScheme uint8

const (
	MemoryStandard MemoryScheme = iota
	MemoryNone
)

func (m MemoryScheme) String() string {
	switch m {
	case MemoryStandard:
		return "standard"
	case MemoryNone:
		return "nomemory"
	}
	return fmt.Sprintf("memory(%d)", uint8(m))
}

func (m MemoryScheme) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *MemoryScheme) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "standard":
		*m = MemoryStandard
	case "nomemory", "none":
		*m = MemoryNone
	default:
		return fmt.Errorf("%w: %q", sddrerrors.ErrInvalidMemoryScheme, text)
	}
	return nil
}

// ConfirmScheme: Threshold is the pFalse at which a passively
// corroborated secret counts as confirmed.
type ConfirmScheme struct {
	Type      linkvalue.Confirm `yaml:"type"`
	Threshold float64           `yaml:"threshold"`
}

func (c ConfirmScheme) String() string {
	if c.Type.Has(linkvalue.ConfirmPassive) {
		return fmt.Sprintf("%s:%g", c.Type, c.Threshold)
	}
	return c.Type.String()
}

// ParseConfirmScheme accepts "type" or "type:threshold", e.g. "passive:0.05".
func ParseConfirmScheme(s string) (ConfirmScheme, error) {
	name, thr, hasThr := strings.Cut(s, ":")
	t, err := linkvalue.ParseConfirm(name)
	if err != nil {
		return ConfirmScheme{}, err
	}
	c := ConfirmScheme{Type: t, Threshold: DefaultThreshold}
	if hasThr {
		if c.Threshold, err = strconv.ParseFloat(thr, 64); err != nil {
			return ConfirmScheme{}, fmt.Errorf("confirm threshold %q: %w", thr, err)
		}
	}
	return c, nil
}

const DefaultThreshold = 0.05

type RadioOptions struct {
	Version Version `yaml:"version"`
	Curve   string  `yaml:"curve"`
	// nil selects the default of the radio version
	Confirm       *ConfirmScheme `yaml:"confirm"`
	Memory        MemoryScheme   `yaml:"memory"`
	EpochInterval time.Duration  `yaml:"epoch_interval"`
}

type Options struct {
	Rnd   sddrrand.Rand `yaml:"-"`
	Stats stats.Stats   `yaml:"-"`
	Clock clock.Clock   `yaml:"-"`

	Radio              RadioOptions      `yaml:"radio"`
	Hysteresis         hysteresis.Config `yaml:"hysteresis"`
	RSSIReportInterval time.Duration     `yaml:"rssi_report_interval"`

	Advertised []linkvalue.LinkValue `yaml:"advertised"`
	Listen     []linkvalue.LinkValue `yaml:"listen"`
}

func DefaultOptions(rnd sddrrand.Rand, st stats.Stats, cl clock.Clock) *Options {
	return &Options{
		Rnd:   rnd,
		Stats: st,
		Clock: cl,
		Radio: RadioOptions{
			Version:       BT2,
			Curve:         "p256",
			Memory:        MemoryStandard,
			EpochInterval: 15 * time.Minute,
		},
		Hysteresis:         hysteresis.DefaultConfig(),
		RSSIReportInterval: time.Minute,
	}
}

// DefaultConfirm is what each radio version uses when Confirm is not set.
func DefaultConfirm(v Version) ConfirmScheme {
	switch v {
	case BT2, BT4:
		return ConfirmScheme{Type: linkvalue.ConfirmPassive, Threshold: DefaultThreshold}
	case BT2PSI:
		return ConfirmScheme{Type: linkvalue.ConfirmActive}
	}
	return ConfirmScheme{Type: linkvalue.ConfirmNone}
}

func (opts *Options) ConfirmScheme() ConfirmScheme {
	if opts.Radio.Confirm != nil {
		return *opts.Radio.Confirm
	}
	return DefaultConfirm(opts.Radio.Version)
}

// ApplyChurn configures the memoryless mode for measuring address churn.
func (opts *Options) ApplyChurn() {
	opts.Hysteresis.Scheme = hysteresis.ImmediateNoMem
	opts.Radio.Memory = MemoryNone
}

// ApplyBench replaces both link value sets with n random values of keyBytes.
func (opts *Options) ApplyBench(n int, keyBytes int) {
	opts.Advertised = make([]linkvalue.LinkValue, 0, n)
	for i := 0; i < n; i++ {
		opts.Advertised = append(opts.Advertised, linkvalue.Random(opts.Rnd, keyBytes))
	}
	opts.Listen = append([]linkvalue.LinkValue(nil), opts.Advertised...)
}

// LoadFile merges YAML file over current values.
func (opts *Options) LoadFile(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(body, opts); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func supportedConfirm(v Version, c linkvalue.Confirm) bool {
	switch v {
	case BT2NR, BT4AR:
		return c == linkvalue.ConfirmNone
	case BT2PSI:
		return c == linkvalue.ConfirmActive
	case BT2:
		return c != linkvalue.ConfirmActive && c != linkvalue.ConfirmHybrid
	}
	return true
}

func (opts *Options) Validate() error {
	if opts.Rnd == nil || opts.Stats == nil || opts.Clock == nil {
		return fmt.Errorf("Rnd, Stats and Clock must be set")
	}
	if int(opts.Radio.Version) >= len(versionNames) {
		return sddrerrors.ErrInvalidVersion
	}
	if _, err := keyexchange.CurveByName(opts.Radio.Curve); err != nil {
		return err
	}
	confirm := opts.ConfirmScheme()
	if confirm.Type > linkvalue.ConfirmHybrid || !supportedConfirm(opts.Radio.Version, confirm.Type) {
		return fmt.Errorf("%w: %s does not support %s", sddrerrors.ErrInvalidConfirmScheme, opts.Radio.Version.FullName(), confirm.Type)
	}
	if confirm.Type.Has(linkvalue.ConfirmPassive) && (confirm.Threshold <= 0 || confirm.Threshold >= 1) {
		return fmt.Errorf("confirm threshold (%g) should be in (0, 1)", confirm.Threshold)
	}
	if opts.Radio.Memory > MemoryNone {
		return sddrerrors.ErrInvalidMemoryScheme
	}
	if opts.Radio.EpochInterval < time.Minute {
		return fmt.Errorf("EpochInterval (%v) should be at least %v", opts.Radio.EpochInterval, time.Minute)
	}
	h := opts.Hysteresis
	switch h.Scheme {
	case hysteresis.Standard, hysteresis.Immediate, hysteresis.ImmediateNoMem:
	default:
		return sddrerrors.ErrInvalidPolicyScheme
	}
	if h.MinStartTime < 0 || h.MaxStartTime <= 0 || h.EndTime <= 0 || h.StartSeen < 0 {
		return fmt.Errorf("hysteresis durations should be positive")
	}
	if opts.RSSIReportInterval <= 0 {
		return fmt.Errorf("RSSIReportInterval (%v) should be > 0", opts.RSSIReportInterval)
	}
	return nil
}

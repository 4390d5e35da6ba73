// Package config describes a simulated system: target profile, cores,
// translation, exception vectors and run limits. Files are read as YAML or
// JSON depending on their extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/ppcsim/emu"
	"github.com/sarchlab/ppcsim/insts"
	"github.com/sarchlab/ppcsim/tlb"
)

// Vector modes.
const (
	VectorsIVOR  = "ivor"
	VectorsFixed = "fixed"
)

// Config holds the description of a simulated system.
type Config struct {
	// Profile names the target profile. Default: e500v2.
	Profile string `json:"profile" yaml:"profile"`

	// Program is the ELF executable to load. It may be left empty when the
	// program is given on the command line.
	Program string `json:"program,omitempty" yaml:"program,omitempty"`

	// MaxInstructions stops each core after this many instructions.
	// Zero means no limit.
	MaxInstructions uint64 `json:"max_instructions" yaml:"max_instructions"`

	// ReportInterval is how many instructions pass between progress
	// reports. Zero disables reports.
	ReportInterval uint64 `json:"report_interval" yaml:"report_interval"`

	// LogLevel is a logrus level name. Default: info.
	LogLevel string `json:"log_level" yaml:"log_level"`

	TLB     TLBConfig    `json:"tlb" yaml:"tlb"`
	Vectors VectorConfig `json:"vectors" yaml:"vectors"`

	// Regions are the software-managed translations. With none, every
	// address maps to itself with full permissions.
	Regions []RegionConfig `json:"regions,omitempty" yaml:"regions,omitempty"`

	Cores []CoreConfig `json:"cores" yaml:"cores"`

	// Breakpoints are set before the first instruction runs.
	Breakpoints []uint64 `json:"breakpoints,omitempty" yaml:"breakpoints,omitempty"`
}

// TLBConfig holds translation cache parameters.
type TLBConfig struct {
	Capacity  int  `json:"capacity" yaml:"capacity"`
	PageShift uint `json:"page_shift" yaml:"page_shift"`

	// Shared makes every core use one cache.
	Shared bool `json:"shared" yaml:"shared"`

	// MissExceptions raises TLB miss exceptions instead of storage
	// exceptions when no region maps an address.
	MissExceptions bool `json:"miss_exceptions" yaml:"miss_exceptions"`
}

// VectorConfig selects how exceptions find their handlers.
type VectorConfig struct {
	// Mode is "ivor" (IVPR | IVORn) or "fixed" (Base + id*Stride).
	Mode string `json:"mode" yaml:"mode"`

	// BookE overrides the vector numbering of the profile in fixed mode.
	BookE *bool `json:"book_e,omitempty" yaml:"book_e,omitempty"`

	// IVPR and IVOR seed the registers of every core in ivor mode.
	IVPR uint64         `json:"ivpr" yaml:"ivpr"`
	IVOR map[int]uint64 `json:"ivor,omitempty" yaml:"ivor,omitempty"`

	Base   uint64 `json:"base" yaml:"base"`
	Stride uint64 `json:"stride" yaml:"stride"`
}

// RegionConfig is one translation region. Flags are names such as "sr",
// "ux", "w", "e" or "all".
type RegionConfig struct {
	Virt  uint64   `json:"virt" yaml:"virt"`
	Phys  uint64   `json:"phys" yaml:"phys"`
	Size  uint64   `json:"size" yaml:"size"`
	Flags []string `json:"flags" yaml:"flags"`
}

// CoreConfig describes one core.
type CoreConfig struct {
	Name     string `json:"name" yaml:"name"`
	ThreadID int    `json:"thread_id" yaml:"thread_id"`
	PC       uint64 `json:"pc" yaml:"pc"`
	Bits     int    `json:"bits" yaml:"bits"`
	EmulFull bool   `json:"emul_full" yaml:"emul_full"`
}

// Default returns a single-core user-mode e500v2 system.
func Default() *Config {
	tc := tlb.DefaultConfig()
	return &Config{
		Profile:        insts.DefaultProfile,
		ReportInterval: emu.DefaultReportInterval,
		LogLevel:       "info",
		TLB: TLBConfig{
			Capacity:  tc.Capacity,
			PageShift: tc.PageShift,
		},
		Vectors: VectorConfig{
			Mode:   VectorsIVOR,
			Stride: 0x100,
		},
		Cores: []CoreConfig{{Name: "cpu0", Bits: 32}},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a configuration file over the defaults. Files ending in .yaml
// or .yml are YAML; anything else is JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// Save writes the configuration in the format its extension selects.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration as a whole.
func (c *Config) Validate() error {
	profile, err := insts.LookupProfile(c.Profile)
	if err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.TLB.Cache().Validate(); err != nil {
		return err
	}
	if err := c.Vectors.validate(); err != nil {
		return err
	}
	if _, err := c.RegionTable(); err != nil {
		return err
	}
	if err := c.checkRegionPages(); err != nil {
		return err
	}

	if len(c.Cores) == 0 {
		return fmt.Errorf("at least one core is required")
	}
	names := make(map[string]bool, len(c.Cores))
	for i, core := range c.Cores {
		if core.Name == "" {
			return fmt.Errorf("core %d has no name", i)
		}
		if names[core.Name] {
			return fmt.Errorf("duplicate core name %q", core.Name)
		}
		names[core.Name] = true

		switch core.Bits {
		case 0, 32:
		case 64:
			if !profile.Supports64() {
				return fmt.Errorf("core %s: profile %s has no 64-bit mode", core.Name, profile.Name)
			}
		default:
			return fmt.Errorf("core %s: bits must be 32 or 64, got %d", core.Name, core.Bits)
		}
	}

	return nil
}

// checkRegionPages requires every region to span whole translation cache
// pages, so no cached page mixes two regions or a region and a hole.
func (c *Config) checkRegionPages() error {
	page := c.TLB.Cache().PageSize()
	for _, r := range c.Regions {
		if r.Size < page {
			return fmt.Errorf("region 0x%X size 0x%X is smaller than the 0x%X tlb page",
				r.Virt, r.Size, page)
		}
		if r.Virt&(page-1) != 0 || r.Phys&(page-1) != 0 {
			return fmt.Errorf("region 0x%X->0x%X is not aligned to the 0x%X tlb page",
				r.Virt, r.Phys, page)
		}
	}
	return nil
}

func (v VectorConfig) validate() error {
	switch v.Mode {
	case VectorsIVOR:
		for n := range v.IVOR {
			if n < 0 || n >= emu.NumIVORs {
				return fmt.Errorf("ivor %d out of range [0, %d)", n, emu.NumIVORs)
			}
		}
	case VectorsFixed:
		if v.Stride == 0 {
			return fmt.Errorf("fixed vectors need a stride > 0")
		}
	default:
		return fmt.Errorf("unknown vector mode %q", v.Mode)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Cache returns the translation cache parameters.
func (t TLBConfig) Cache() tlb.Config {
	return tlb.Config{Capacity: t.Capacity, PageShift: t.PageShift}
}

// Table builds the vector table for profile.
func (v VectorConfig) Table(profile insts.Profile) emu.VectorTable {
	if v.Mode != VectorsFixed {
		return emu.IVORTable{}
	}
	bookE := profile.BookE()
	if v.BookE != nil {
		bookE = *v.BookE
	}
	return emu.NewFixedTable(v.Base, v.Stride, bookE)
}

// Seed writes IVPR and the configured IVORs into regs.
func (v VectorConfig) Seed(regs *emu.RegFile) {
	regs.IVPR = v.IVPR
	for n, off := range v.IVOR {
		regs.IVOR[n] = off
	}
}

// RegionTable builds the page table, or returns nil when no regions are
// configured.
func (c *Config) RegionTable() (*tlb.RegionTable, error) {
	if len(c.Regions) == 0 {
		return nil, nil
	}

	regions := make([]tlb.Region, 0, len(c.Regions))
	for _, rc := range c.Regions {
		flags, err := ParseFlags(rc.Flags)
		if err != nil {
			return nil, err
		}
		regions = append(regions, tlb.Region{
			Virt:  rc.Virt,
			Phys:  rc.Phys,
			Size:  rc.Size,
			Flags: flags,
		})
	}
	return tlb.NewRegionTable(regions...)
}

var flagNames = map[string]tlb.Flags{
	"sr":  tlb.FlagSR,
	"sw":  tlb.FlagSW,
	"sx":  tlb.FlagSX,
	"ur":  tlb.FlagUR,
	"uw":  tlb.FlagUW,
	"ux":  tlb.FlagUX,
	"w":   tlb.FlagW,
	"i":   tlb.FlagI,
	"m":   tlb.FlagM,
	"g":   tlb.FlagG,
	"e":   tlb.FlagE,
	"all": tlb.PermAll,
}

// ParseFlags combines flag names. Names are case-insensitive.
func ParseFlags(names []string) (tlb.Flags, error) {
	var flags tlb.Flags
	for _, name := range names {
		f, ok := flagNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown region flag %q (known: %s)", name, knownFlags())
		}
		flags |= f
	}
	return flags, nil
}

func knownFlags() string {
	names := make([]string, 0, len(flagNames))
	for name := range flagNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	out := *c
	if c.Regions != nil {
		out.Regions = make([]RegionConfig, len(c.Regions))
		for i, r := range c.Regions {
			r.Flags = append([]string(nil), r.Flags...)
			out.Regions[i] = r
		}
	}
	out.Cores = append([]CoreConfig(nil), c.Cores...)
	out.Breakpoints = append([]uint64(nil), c.Breakpoints...)
	if c.Vectors.IVOR != nil {
		out.Vectors.IVOR = make(map[int]uint64, len(c.Vectors.IVOR))
		for n, off := range c.Vectors.IVOR {
			out.Vectors.IVOR[n] = off
		}
	}
	if c.Vectors.BookE != nil {
		b := *c.Vectors.BookE
		out.Vectors.BookE = &b
	}
	return &out
}

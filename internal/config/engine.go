package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
const DefaultConfigPath = "config/engine.defaults.json"

// Track names select the simplification tolerance.
const (
	TrackBaseline     = "baseline"
	TrackExperimental = "experimental"
)

// Retention stages say when the crop-presence filter runs relative to
// elimination.
const (
	RetentionNone   = "none"
	RetentionBefore = "before"
	RetentionAfter  = "after"
)

// EngineConfig holds every tunable of a boundary generalization run. Nil
// fields fall back to the defaults returned by the Get* methods, so partial
// documents are safe.
type EngineConfig struct {
	// Elimination
	TierThresholds []float64 `json:"tier_thresholds,omitempty"`
	MergePolicy    *string   `json:"merge_policy,omitempty"` // area_weighted, majority, survivor

	// PreserveYearIndex, when set, only merges polygons sharing the
	// category of that year (0 is the first year of the stack).
	PreserveYearIndex *int `json:"preserve_year_index,omitempty"`

	// Simplification
	SimplifyTolerance     *float64 `json:"simplify_tolerance,omitempty"`
	SimplifyToleranceFine *float64 `json:"simplify_tolerance_fine,omitempty"`
	Track                 *string  `json:"track,omitempty"` // baseline or experimental

	// Tiling, in map units
	TileSize           *float64 `json:"tile_size,omitempty"`
	TileOverlap        *float64 `json:"tile_overlap,omitempty"`
	CPUFraction        *float64 `json:"cpu_fraction,omitempty"`
	TileRetries        *int     `json:"tile_retries,omitempty"`
	TileTimeout        *string  `json:"tile_timeout,omitempty"` // duration string like "15m"
	MinOverlapFraction *float64 `json:"min_overlap_fraction,omitempty"`

	// Categories
	MaxCategory    *int `json:"max_category,omitempty"`
	NodataCategory *int `json:"nodata_category,omitempty"`
	BarrenCategory *int `json:"barren_category,omitempty"`

	// Crop-presence retention
	MinCropYears      *int     `json:"min_crop_years,omitempty"`
	MinAreaSingleYear *float64 `json:"min_area_single_year,omitempty"`
	RetentionStage    *string  `json:"retention_stage,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEngineConfig returns a config with every field unset.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// DefaultEngineConfig returns a config with every field set to its default.
func DefaultEngineConfig() *EngineConfig {
	c := EmptyEngineConfig()
	return &EngineConfig{
		TierThresholds:        c.GetTierThresholds(),
		MergePolicy:           ptrString(c.GetMergePolicy()),
		PreserveYearIndex:     c.PreserveYearIndex,
		SimplifyTolerance:     ptrFloat64(c.GetSimplifyTolerance()),
		SimplifyToleranceFine: ptrFloat64(c.GetSimplifyToleranceFine()),
		Track:                 ptrString(c.GetTrack()),
		TileSize:              ptrFloat64(c.GetTileSize()),
		TileOverlap:           ptrFloat64(c.GetTileOverlap()),
		CPUFraction:           ptrFloat64(c.GetCPUFraction()),
		TileRetries:           ptrInt(c.GetTileRetries()),
		TileTimeout:           ptrString(c.GetTileTimeout().String()),
		MinOverlapFraction:    ptrFloat64(c.GetMinOverlapFraction()),
		MaxCategory:           ptrInt(int(c.GetMaxCategory())),
		NodataCategory:        ptrInt(int(c.GetNodataCategory())),
		BarrenCategory:        ptrInt(int(c.GetBarrenCategory())),
		MinCropYears:          ptrInt(c.GetMinCropYears()),
		MinAreaSingleYear:     ptrFloat64(c.GetMinAreaSingleYear()),
		RetentionStage:        ptrString(c.GetRetentionStage()),
	}
}

// LoadEngineConfig loads an EngineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseEngineConfig(data)
}

// ParseEngineConfig decodes and validates a JSON document.
func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// current directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *EngineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadEngineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Fingerprint returns the canonical JSON encoding of the fully defaulted
// config. Two configs with the same effective values share a fingerprint.
func (c *EngineConfig) Fingerprint() []byte {
	resolved := &EngineConfig{
		TierThresholds:        c.GetTierThresholds(),
		MergePolicy:           ptrString(c.GetMergePolicy()),
		PreserveYearIndex:     c.PreserveYearIndex,
		SimplifyTolerance:     ptrFloat64(c.GetSimplifyTolerance()),
		SimplifyToleranceFine: ptrFloat64(c.GetSimplifyToleranceFine()),
		Track:                 ptrString(c.GetTrack()),
		TileSize:              ptrFloat64(c.GetTileSize()),
		TileOverlap:           ptrFloat64(c.GetTileOverlap()),
		MinOverlapFraction:    ptrFloat64(c.GetMinOverlapFraction()),
		MaxCategory:           ptrInt(int(c.GetMaxCategory())),
		NodataCategory:        ptrInt(int(c.GetNodataCategory())),
		BarrenCategory:        ptrInt(int(c.GetBarrenCategory())),
		MinCropYears:          ptrInt(c.GetMinCropYears()),
		MinAreaSingleYear:     ptrFloat64(c.GetMinAreaSingleYear()),
		RetentionStage:        ptrString(c.GetRetentionStage()),
	}
	// Worker count, retries and timeouts do not change tile output.
	b, _ := json.Marshal(resolved)
	return b
}

// Validate checks that the configuration values are valid.
func (c *EngineConfig) Validate() error {
	prev := 0.0
	for i, t := range c.TierThresholds {
		if !(t > prev) || math.IsInf(t, 0) {
			return fmt.Errorf("tier_thresholds[%d] must be finite and above %v, got %v", i, prev, t)
		}
		prev = t
	}

	if c.MergePolicy != nil {
		switch *c.MergePolicy {
		case "area_weighted", "majority", "survivor":
		default:
			return fmt.Errorf("unknown merge_policy %q", *c.MergePolicy)
		}
	}

	if c.PreserveYearIndex != nil && *c.PreserveYearIndex < 0 {
		return fmt.Errorf("preserve_year_index must be non-negative, got %d", *c.PreserveYearIndex)
	}

	if c.SimplifyTolerance != nil && *c.SimplifyTolerance < 0 {
		return fmt.Errorf("simplify_tolerance must be non-negative, got %f", *c.SimplifyTolerance)
	}
	if c.SimplifyToleranceFine != nil && *c.SimplifyToleranceFine < 0 {
		return fmt.Errorf("simplify_tolerance_fine must be non-negative, got %f", *c.SimplifyToleranceFine)
	}
	if c.Track != nil && *c.Track != TrackBaseline && *c.Track != TrackExperimental {
		return fmt.Errorf("track must be %q or %q, got %q", TrackBaseline, TrackExperimental, *c.Track)
	}

	if c.TileSize != nil && !(*c.TileSize > 0) {
		return fmt.Errorf("tile_size must be positive, got %f", *c.TileSize)
	}
	if c.TileOverlap != nil && *c.TileOverlap < 0 {
		return fmt.Errorf("tile_overlap must be non-negative, got %f", *c.TileOverlap)
	}
	if c.GetTileOverlap() >= c.GetTileSize() {
		return fmt.Errorf("tile_overlap %v must be smaller than tile_size %v", c.GetTileOverlap(), c.GetTileSize())
	}
	if c.CPUFraction != nil && (*c.CPUFraction <= 0 || *c.CPUFraction > 1) {
		return fmt.Errorf("cpu_fraction must be in (0, 1], got %f", *c.CPUFraction)
	}
	if c.TileRetries != nil && *c.TileRetries < 0 {
		return fmt.Errorf("tile_retries must be non-negative, got %d", *c.TileRetries)
	}
	if c.TileTimeout != nil && *c.TileTimeout != "" {
		if _, err := time.ParseDuration(*c.TileTimeout); err != nil {
			return fmt.Errorf("invalid tile_timeout '%s': %w", *c.TileTimeout, err)
		}
	}
	if c.MinOverlapFraction != nil && (*c.MinOverlapFraction <= 0 || *c.MinOverlapFraction > 1) {
		return fmt.Errorf("min_overlap_fraction must be in (0, 1], got %f", *c.MinOverlapFraction)
	}

	for name, v := range map[string]*int{
		"max_category":    c.MaxCategory,
		"nodata_category": c.NodataCategory,
		"barren_category": c.BarrenCategory,
	} {
		if v != nil && (*v < 0 || *v > math.MaxUint16) {
			return fmt.Errorf("%s must be in [0, %d], got %d", name, math.MaxUint16, *v)
		}
	}
	if c.GetNodataCategory() > c.GetMaxCategory() {
		return fmt.Errorf("nodata_category %d exceeds max_category %d", c.GetNodataCategory(), c.GetMaxCategory())
	}

	if c.MinCropYears != nil && *c.MinCropYears < 1 {
		return fmt.Errorf("min_crop_years must be at least 1, got %d", *c.MinCropYears)
	}
	if c.MinAreaSingleYear != nil && *c.MinAreaSingleYear < 0 {
		return fmt.Errorf("min_area_single_year must be non-negative, got %f", *c.MinAreaSingleYear)
	}
	if c.RetentionStage != nil {
		switch *c.RetentionStage {
		case RetentionNone, RetentionBefore, RetentionAfter:
		default:
			return fmt.Errorf("retention_stage must be none, before or after, got %q", *c.RetentionStage)
		}
	}
	return nil
}

// GetTierThresholds returns a copy of the elimination tiers or the default.
func (c *EngineConfig) GetTierThresholds() []float64 {
	if len(c.TierThresholds) == 0 {
		return []float64{100, 1000, 10000}
	}
	return append([]float64(nil), c.TierThresholds...)
}

// GetMergePolicy returns the merge_policy value or the default.
func (c *EngineConfig) GetMergePolicy() string {
	if c.MergePolicy == nil {
		return "area_weighted"
	}
	return *c.MergePolicy
}

// GetSimplifyTolerance returns the baseline tolerance or the default.
func (c *EngineConfig) GetSimplifyTolerance() float64 {
	if c.SimplifyTolerance == nil {
		return 60
	}
	return *c.SimplifyTolerance
}

// GetSimplifyToleranceFine returns the experimental tolerance or the default.
func (c *EngineConfig) GetSimplifyToleranceFine() float64 {
	if c.SimplifyToleranceFine == nil {
		return 10
	}
	return *c.SimplifyToleranceFine
}

// GetTrack returns the track value or the default.
func (c *EngineConfig) GetTrack() string {
	if c.Track == nil {
		return TrackBaseline
	}
	return *c.Track
}

// Tolerance returns the simplification tolerance of the selected track.
func (c *EngineConfig) Tolerance() float64 {
	if c.GetTrack() == TrackExperimental {
		return c.GetSimplifyToleranceFine()
	}
	return c.GetSimplifyTolerance()
}

// GetTileSize returns the tile side in map units or the default (100 km).
func (c *EngineConfig) GetTileSize() float64 {
	if c.TileSize == nil {
		return 100000
	}
	return *c.TileSize
}

// GetTileOverlap returns the tile margin in map units or the default.
func (c *EngineConfig) GetTileOverlap() float64 {
	if c.TileOverlap == nil {
		return 1000
	}
	return *c.TileOverlap
}

// TileCells converts tile size and overlap to whole cells. The overlap is
// rounded up so the margin is never narrower than configured.
func (c *EngineConfig) TileCells(cellSize float64) (tile, margin int) {
	tile = max(int(math.Floor(c.GetTileSize()/cellSize)), 1)
	margin = int(math.Ceil(c.GetTileOverlap() / cellSize))
	return tile, margin
}

// GetCPUFraction returns the cpu_fraction value or the default.
func (c *EngineConfig) GetCPUFraction() float64 {
	if c.CPUFraction == nil {
		return 0.97
	}
	return *c.CPUFraction
}

// GetTileRetries returns the tile_retries value or the default.
func (c *EngineConfig) GetTileRetries() int {
	if c.TileRetries == nil {
		return 2
	}
	return *c.TileRetries
}

// GetTileTimeout parses and returns the TileTimeout as a time.Duration.
func (c *EngineConfig) GetTileTimeout() time.Duration {
	if c.TileTimeout == nil || *c.TileTimeout == "" {
		return 30 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.TileTimeout)
	if err != nil {
		return 30 * time.Minute // default on parse error
	}
	return d
}

// GetMinOverlapFraction returns the min_overlap_fraction value or the default.
func (c *EngineConfig) GetMinOverlapFraction() float64 {
	if c.MinOverlapFraction == nil {
		return 0.5
	}
	return *c.MinOverlapFraction
}

// GetMaxCategory returns the max_category value or the default.
func (c *EngineConfig) GetMaxCategory() uint16 {
	if c.MaxCategory == nil {
		return 254 // largest code whose base keeps eight years in 64 bits
	}
	return uint16(*c.MaxCategory)
}

// GetNodataCategory returns the nodata_category value or the default.
func (c *EngineConfig) GetNodataCategory() uint16 {
	if c.NodataCategory == nil {
		return 0
	}
	return uint16(*c.NodataCategory)
}

// GetBarrenCategory returns the barren_category value or the default.
func (c *EngineConfig) GetBarrenCategory() uint16 {
	if c.BarrenCategory == nil {
		return 45
	}
	return uint16(*c.BarrenCategory)
}

// GetMinCropYears returns the min_crop_years value or the default.
func (c *EngineConfig) GetMinCropYears() int {
	if c.MinCropYears == nil {
		return 2
	}
	return *c.MinCropYears
}

// GetMinAreaSingleYear returns the min_area_single_year value or the default (1 ha).
func (c *EngineConfig) GetMinAreaSingleYear() float64 {
	if c.MinAreaSingleYear == nil {
		return 10000
	}
	return *c.MinAreaSingleYear
}

// GetPreserveYearIndex returns the year index merges must agree on, if any.
func (c *EngineConfig) GetPreserveYearIndex() (int, bool) {
	if c.PreserveYearIndex == nil {
		return 0, false
	}
	return *c.PreserveYearIndex, true
}

// GetRetentionStage returns the retention_stage value or the default.
func (c *EngineConfig) GetRetentionStage() string {
	if c.RetentionStage == nil {
		return RetentionNone
	}
	return *c.RetentionStage
}

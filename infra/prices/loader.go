// Package prices loads forward price curves from disk.
package prices

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/ugs/core/model"
)

// DefaultDateFormat parses DD/MM/YYYY dates.
const DefaultDateFormat = "02/01/2006"

// Supported curve sources.
const (
	SourceFile = "file"
	SourceHTTP = "http"
)

// DefaultHorizon is the number of delivery days of a storage year.
const DefaultHorizon = 365

// ErrInvalidSeries is wrapped by every loader failure caused by file content.
var ErrInvalidSeries = model.ErrInvalidSeries

// Config describes where the curve lives and the window it must cover.
type Config struct {
	// Source is "file" (default) or "http".
	Source     string     `json:"source"`
	Path       string     `json:"path"`
	HTTP       HTTPConfig `json:"http"`
	DateFormat string     `json:"date_format"`
	// Start and End bound the delivery window, both inclusive, in
	// YYYY-MM-DD. Empty values disable the coverage check.
	Start   string `json:"start"`
	End     string `json:"end"`
	Horizon int    `json:"horizon"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Source == "" {
		c.Source = SourceFile
	}
	if c.DateFormat == "" {
		c.DateFormat = DefaultDateFormat
	}
	if c.Horizon == 0 {
		c.Horizon = DefaultHorizon
	}
}

// Validate checks the configured window.
func (c Config) Validate() error {
	switch c.Source {
	case SourceFile:
		if c.Path == "" {
			return errors.New("prices path is required")
		}
	case SourceHTTP:
		if c.HTTP.URL == "" {
			return errors.New("prices http url is required")
		}
	default:
		return fmt.Errorf("unknown prices source %q", c.Source)
	}
	if c.Horizon < 0 {
		return fmt.Errorf("horizon must be >= 0, got %d", c.Horizon)
	}
	start, end, err := c.window()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("prices end %s before start %s", c.End, c.Start)
	}
	return nil
}

func (c Config) window() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if c.Start != "" {
		if start, err = time.Parse(time.DateOnly, c.Start); err != nil {
			return start, end, fmt.Errorf("prices start: %w", err)
		}
	}
	if c.End != "" {
		if end, err = time.Parse(time.DateOnly, c.End); err != nil {
			return start, end, fmt.Errorf("prices end: %w", err)
		}
	}
	return start, end, nil
}

type yamlPoint struct {
	Date  string `yaml:"date"`
	Price string `yaml:"price"`
}

type rawPoint struct {
	date  string
	price string
	line  int
}

// Read loads the curve from the configured source.
func Read(ctx context.Context, cfg Config) (model.PriceSeries, error) {
	cfg.SetDefaults()
	if cfg.Source == SourceHTTP {
		return Fetch(ctx, cfg)
	}
	return Load(cfg)
}

// Load reads the curve at cfg.Path. Files ending in .yaml or .yml hold a
// list of {date, price} entries, anything else is read as CSV with a
// date,price header.
func Load(cfg Config) (model.PriceSeries, error) {
	cfg.SetDefaults()
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(cfg.Path)) {
	case ".yaml", ".yml":
		return ReadYAML(f, cfg)
	default:
		return ReadCSV(f, cfg)
	}
}

// ReadCSV parses a curve in CSV form. Column order is free but both date and
// price headers are required.
func ReadCSV(r io.Reader, cfg Config) (model.PriceSeries, error) {
	cfg.SetDefaults()
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidSeries)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
	}
	dateCol, priceCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "date":
			dateCol = i
		case "price":
			priceCol = i
		}
	}
	if dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("%w: csv must contain columns date and price", ErrInvalidSeries)
	}

	var raw []rawPoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
		}
		raw = append(raw, rawPoint{date: rec[dateCol], price: rec[priceCol], line: line})
	}
	return build(raw, cfg)
}

// ReadYAML parses a curve given as a YAML list.
func ReadYAML(r io.Reader, cfg Config) (model.PriceSeries, error) {
	cfg.SetDefaults()
	var points []yamlPoint
	if err := yaml.NewDecoder(r).Decode(&points); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidSeries)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
	}
	raw := make([]rawPoint, len(points))
	for i, p := range points {
		raw[i] = rawPoint{date: p.Date, price: p.Price, line: i + 1}
	}
	return build(raw, cfg)
}

func build(raw []rawPoint, cfg Config) (model.PriceSeries, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidSeries)
	}
	series := make(model.PriceSeries, len(raw))
	seen := make(map[time.Time]int, len(raw))
	for i, p := range raw {
		d, err := time.Parse(cfg.DateFormat, strings.TrimSpace(p.date))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: date %q: %v", ErrInvalidSeries, p.line, p.date, err)
		}
		if prev, ok := seen[d]; ok {
			return nil, fmt.Errorf("%w: row %d: date %s already on row %d", ErrInvalidSeries, p.line, d.Format(time.DateOnly), prev)
		}
		seen[d] = p.line
		price, err := decimal.NewFromString(strings.TrimSpace(p.price))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: price %q: %v", ErrInvalidSeries, p.line, p.price, err)
		}
		series[i] = model.DayPrice{Date: d, Price: price.InexactFloat64()}
	}
	sort.SliceStable(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	for i := range series {
		series[i].Day = i
	}

	start, end, err := cfg.window()
	if err != nil {
		return nil, err
	}
	first, last := series[0].Date, series[len(series)-1].Date
	if (!start.IsZero() && first.After(start)) || (!end.IsZero() && last.Before(end)) {
		return nil, fmt.Errorf("%w: dates %s..%s do not cover %s..%s", ErrInvalidSeries,
			first.Format(time.DateOnly), last.Format(time.DateOnly), cfg.Start, cfg.End)
	}
	if err := series.Validate(cfg.Horizon); err != nil {
		return nil, err
	}
	return series, nil
}

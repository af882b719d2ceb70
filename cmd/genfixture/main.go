// Command genfixture writes a synthetic source catalog for local runs and
// tests. Every collection of the default variable catalog gets NetCDF files
// in the layout the worker's source catalog reads, covering the buffered
// domain of the given bounds.
//
// Usage:
//
//	go run ./cmd/genfixture \
//	  -root data/sources \
//	  -bounds 42.363116,-111.155208,44.582480,-109.477849 \
//	  -begin 2014-09-01 -end 2014-09-08 \
//	  -from-year 2010 -to-year 2015
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

type options struct {
	root       string
	bounds     domain.Rect
	begin, end time.Time
	fromYear   int
	toYear     int
	demStep    float64
	prismStep  float64
	cfsStep    float64
	seed       uint64
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	dom, err := domain.NewDomainSpec("fixture", opts.bounds, domain.DefaultBuffer())
	if err != nil {
		return err
	}
	g := generator{rng: rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))}
	area := dom.Buffered()

	collections := []struct {
		id    string
		files map[string]netcdf.SourceFile
	}{
		{domain.CollectionSRTM90, map[string]netcdf.SourceFile{"srtm90.nc": g.dem(area, opts.demStep)}},
		{domain.CollectionNLCD, map[string]netcdf.SourceFile{"nlcd.nc": g.landcover(area, opts.demStep)}},
		{domain.CollectionPRISM, g.prism(area, opts.prismStep, opts.fromYear, opts.toYear)},
		{domain.CollectionCFSv2, g.cfsv2(area, opts.cfsStep, opts.begin, opts.end)},
	}
	for _, c := range collections {
		dir := filepath.Join(opts.root, filepath.FromSlash(c.id))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for name, f := range c.files {
			path := filepath.Join(dir, name)
			if err := netcdf.WriteSource(path, f); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			log.Printf("%s: %dx%d px, %d steps", path, len(f.Lons), len(f.Lats), max(len(f.Times), 1))
		}
	}
	return nil
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("genfixture", flag.ContinueOnError)
	root := fs.String("root", "data/sources", "catalog root directory")
	bounds := fs.String("bounds", "42.363116,-111.155208,44.582480,-109.477849", "domain bounds: min_lat,min_long,max_lat,max_long")
	begin := fs.String("begin", "2014-09-01", "first CFSv2 day")
	end := fs.String("end", "2014-09-08", "CFSv2 end day, exclusive")
	fromYear := fs.Int("from-year", 2010, "first PRISM year")
	toYear := fs.Int("to-year", 2015, "last PRISM year")
	demStep := fs.Float64("dem-step", 0.01, "terrain and land cover spacing in degrees")
	prismStep := fs.Float64("prism-step", 150.0/3600, "PRISM spacing in degrees")
	cfsStep := fs.Float64("cfs-step", 0.2, "CFSv2 spacing in degrees")
	seed := fs.Uint64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		root: *root, fromYear: *fromYear, toYear: *toYear,
		demStep: *demStep, prismStep: *prismStep, cfsStep: *cfsStep, seed: *seed,
	}
	var err error
	if opts.bounds, err = parseBounds(*bounds); err != nil {
		return options{}, err
	}
	if opts.begin, err = time.Parse(time.DateOnly, *begin); err != nil {
		return options{}, fmt.Errorf("-begin: %w", err)
	}
	if opts.end, err = time.Parse(time.DateOnly, *end); err != nil {
		return options{}, fmt.Errorf("-end: %w", err)
	}
	if !opts.begin.Before(opts.end) {
		return options{}, fmt.Errorf("-begin %s must be before -end %s", *begin, *end)
	}
	if opts.fromYear > opts.toYear {
		return options{}, fmt.Errorf("-from-year %d after -to-year %d", opts.fromYear, opts.toYear)
	}
	for _, s := range []float64{opts.demStep, opts.prismStep, opts.cfsStep} {
		if s <= 0 {
			return options{}, fmt.Errorf("steps must be positive, got %g", s)
		}
	}
	return opts, nil
}

func parseBounds(s string) (domain.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.Rect{}, fmt.Errorf("-bounds needs 4 values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.Rect{}, fmt.Errorf("-bounds: %w", err)
		}
		v[i] = f
	}
	r := domain.Rect{MinLat: v[0], MinLong: v[1], MaxLat: v[2], MaxLong: v[3]}
	return r, r.Validate()
}

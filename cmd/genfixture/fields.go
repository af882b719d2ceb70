package main

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// NLCD classes the synthetic land cover draws from, lowest elevation first.
var nlcdClasses = []float64{81, 52, 71, 42, 41, 90, 11}

type generator struct {
	rng *rand.Rand
}

// axes returns ascending cell-centre coordinates covering area. One extra
// cell is added on each side so resampling never reaches the file edge.
func axes(area domain.Rect, step float64) (lats, lons []float64) {
	rows := int(math.Ceil((area.MaxLat-area.MinLat)/step)) + 2
	cols := int(math.Ceil((area.MaxLong-area.MinLong)/step)) + 2
	for i := range rows {
		lats = append(lats, area.MinLat-step/2+float64(i)*step)
	}
	for i := range cols {
		lons = append(lons, area.MinLong-step/2+float64(i)*step)
	}
	return lats, lons
}

// terrain is a smooth synthetic elevation surface in meters.
func terrain(lat, lon float64) float64 {
	return 2200 + 900*math.Sin(lat*3.1)*math.Cos(lon*2.3) + 400*math.Cos(lat*7.7+lon*5.3)
}

// image evaluates f over the grid, row-major in lat order.
func image(lats, lons []float64, f func(lat, lon float64) float64) []float64 {
	out := make([]float64, 0, len(lats)*len(lons))
	for _, lat := range lats {
		for _, lon := range lons {
			out = append(out, f(lat, lon))
		}
	}
	return out
}

func (g generator) dem(area domain.Rect, step float64) netcdf.SourceFile {
	lats, lons := axes(area, step)
	return netcdf.SourceFile{
		Lats: lats,
		Lons: lons,
		Fields: map[string][][]float64{"elevation": {image(lats, lons, func(lat, lon float64) float64 {
			return math.Round(terrain(lat, lon) + g.rng.NormFloat64()*15)
		})}},
	}
}

func (g generator) landcover(area domain.Rect, step float64) netcdf.SourceFile {
	lats, lons := axes(area, step)
	times := []time.Time{
		time.Date(2016, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	var images [][]float64
	for range times {
		images = append(images, image(lats, lons, func(lat, lon float64) float64 {
			h := (terrain(lat, lon) - 900) / 2600
			i := int(h*float64(len(nlcdClasses))) + g.rng.IntN(3) - 1
			return nlcdClasses[min(max(i, 0), len(nlcdClasses)-1)]
		}))
	}
	return netcdf.SourceFile{Lats: lats, Lons: lons, Times: times, Fields: map[string][][]float64{"landcover": images}}
}

// prism writes one file per PRISM field with monthly steps.
func (g generator) prism(area domain.Rect, step float64, fromYear, toYear int) map[string]netcdf.SourceFile {
	lats, lons := axes(area, step)
	var times []time.Time
	for y := fromYear; y <= toYear; y++ {
		for m := time.January; m <= time.December; m++ {
			times = append(times, time.Date(y, m, 1, 0, 0, 0, 0, time.UTC))
		}
	}

	ppt := make([][]float64, 0, len(times))
	tmean := make([][]float64, 0, len(times))
	for _, ts := range times {
		season := math.Cos(2 * math.Pi * float64(ts.Month()-1) / 12)
		wet := 1 + 0.3*g.rng.NormFloat64()
		ppt = append(ppt, image(lats, lons, func(lat, lon float64) float64 {
			return math.Max(0, (40+25*season)*wet*terrain(lat, lon)/2200)
		}))
		tmean = append(tmean, image(lats, lons, func(lat, lon float64) float64 {
			return 5 - 12*season - 0.0065*(terrain(lat, lon)-2200) + g.rng.NormFloat64()
		}))
	}
	return map[string]netcdf.SourceFile{
		"ppt.nc":   {Lats: lats, Lons: lons, Times: times, Fields: map[string][][]float64{"ppt": ppt}},
		"tmean.nc": {Lats: lats, Lons: lons, Times: times, Fields: map[string][][]float64{"tmean": tmean}},
	}
}

// cfsv2 writes one file per reanalysis field with 6-hourly steps.
// Temperature is packed to int16 like the upstream product.
func (g generator) cfsv2(area domain.Rect, step float64, begin, end time.Time) map[string]netcdf.SourceFile {
	lats, lons := axes(area, step)
	var times []time.Time
	for ts := begin.UTC(); ts.Before(end); ts = ts.Add(6 * time.Hour) {
		times = append(times, ts)
	}

	fields := map[string]func(ts time.Time, lat, lon float64) float64{
		"Temperature_height_above_ground": func(ts time.Time, lat, lon float64) float64 {
			return 278 - 8*math.Cos(2*math.Pi*float64(ts.Hour())/24) - 0.0065*(terrain(lat, lon)-2200) + g.rng.NormFloat64()
		},
		"Geopotential_height_surface": func(_ time.Time, lat, lon float64) float64 { return terrain(lat, lon) },
		"u-component_of_wind_height_above_ground": func(time.Time, float64, float64) float64 {
			return 4 + 3*g.rng.NormFloat64()
		},
		"v-component_of_wind_height_above_ground": func(time.Time, float64, float64) float64 {
			return 3 * g.rng.NormFloat64()
		},
		"Pressure_surface": func(_ time.Time, lat, lon float64) float64 {
			return 101325 * math.Exp(-terrain(lat, lon)/8400)
		},
		"Specific_humidity_height_above_ground": func(time.Time, float64, float64) float64 {
			return 0.004 + 0.001*g.rng.Float64()
		},
		"Precipitation_rate_surface_6_Hour_Average": func(time.Time, float64, float64) float64 {
			if g.rng.Float64() < 0.7 {
				return 0
			}
			return 1e-4 * g.rng.ExpFloat64()
		},
		"Downward_Long-Wave_Radp_Flux_surface_6_Hour_Average": func(time.Time, float64, float64) float64 {
			return 260 + 20*g.rng.NormFloat64()
		},
		"Downward_Short-Wave_Radiation_Flux_surface_6_Hour_Average": func(ts time.Time, _, _ float64) float64 {
			return math.Max(0, 600*math.Sin(math.Pi*float64(ts.Hour()-6)/12))
		},
	}

	files := make(map[string]netcdf.SourceFile, len(fields))
	for _, f := range domain.CFSv2Fields {
		fn := fields[f.Field]
		images := make([][]float64, 0, len(times))
		for _, ts := range times {
			images = append(images, image(lats, lons, func(lat, lon float64) float64 { return fn(ts, lat, lon) }))
		}
		sf := netcdf.SourceFile{Lats: lats, Lons: lons, Times: times, Fields: map[string][][]float64{f.Field: images}}
		if f.Var == "tair" {
			sf.Packed, sf.Scale, sf.Offset = true, 0.01, 273.15
		}
		files[f.Var+".nc"] = sf
	}
	return files
}

// Package domain models the inputs and outputs of snow-model forcing preparation.
//
// # Regions
//
// A [DomainSpec] is the model domain in WGS84 degrees plus a buffered
// rectangle used for coarse reanalysis products. The buffer defaults to
// 0.25 degrees of latitude and 0.5 degrees of longitude on every side so that
// a 0.2-degree reanalysis grid still covers the domain after resampling:
//
//	domain   {42.363116, -111.155208, 44.582480, -109.477849}
//	buffered {42.113116, -111.655208, 44.832480, -108.977849}
//
// # Variables
//
// The [VariableCatalog] binds each logical variable to a source collection:
//
//	dem                 CGIAR/SRTM90_V4 elevation          static       DEM_<domain>
//	landcover           USGS/NLCD landcover (classes)      composite    NLCD2016_<domain>
//	precip_climatology  OREGONSTATE/PRISM/AN81m ppt        climatology  PRISM_Precip
//	temp_climatology    OREGONSTATE/PRISM/AN81m tmean      climatology  PRISM_Temp
//	tair .. swr         NOAA/CFSV2/FOR6H (9 fields)        timeseries   cfsv2_<begin>_<end>_<var>
//
// Categorical variables reduce with mode and resample with nearest neighbour;
// continuous variables reduce with mean and resample bilinearly.
//
// # Rasters
//
// Pixel data is row-major float64 with NaN as no-data. Grids are north-up with
// the origin at the outer top-left corner. A [Raster] carries its bands in a
// deterministic order: period order for reductions, timestamp-major then field
// order for time series.
//
// # Errors
//
// Every failure kind has a sentinel for errors.Is and a typed error for
// errors.As. [EmptyRangeError] aborts one artifact only. [PixelBudgetExceededError]
// is a configuration error and is never retried; [BackendJobFailure] carries a
// Permanent flag that decides whether a caller may retry.
package domain

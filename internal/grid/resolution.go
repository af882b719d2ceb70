package grid

import (
	"fmt"
	"math"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// DefaultReferenceArcSecondMeters is the east-west length of one arc-second
// applied to PRISM exports when a run does not set one.
const DefaultReferenceArcSecondMeters = 22.57

// arcSecondMetersEquator is the length of one arc-second of longitude at the equator.
const arcSecondMetersEquator = 30.87

// ComputeResolution converts a source resolution in arc-seconds into metres
// using the metre length of one arc-second at a reference latitude.
func ComputeResolution(referenceArcSecondMeters, sourceResolutionArcSeconds float64) (float64, error) {
	if !(referenceArcSecondMeters > 0) || math.IsInf(referenceArcSecondMeters, 0) {
		return 0, fmt.Errorf("%w: reference arc-second length %g", domain.ErrInvalidResolutionArg, referenceArcSecondMeters)
	}
	if !(sourceResolutionArcSeconds > 0) || math.IsInf(sourceResolutionArcSeconds, 0) {
		return 0, fmt.Errorf("%w: source resolution %g arc-seconds", domain.ErrInvalidResolutionArg, sourceResolutionArcSeconds)
	}
	return referenceArcSecondMeters * sourceResolutionArcSeconds, nil
}

// ArcSecondMetersAt approximates the east-west arc-second length at lat degrees.
func ArcSecondMetersAt(lat float64) float64 {
	return arcSecondMetersEquator * math.Cos(lat*math.Pi/180)
}

// ResolutionNote records that a metre resolution was derived from ref metres
// per arc-second and drifts with latitude. The local length at lat is reported
// alongside it.
func ResolutionNote(lat, ref float64) string {
	return fmt.Sprintf("resolution approximated at reference latitude %.4f (%.2f m/arc-second used, %.2f m local)",
		lat, ref, ArcSecondMetersAt(lat))
}

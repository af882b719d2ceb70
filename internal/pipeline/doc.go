// Package pipeline turns catalog entries into export plans and evaluates them.
//
// Planning is pure: [Planner.Build] resolves each requested variable against
// the catalog and returns serialisable [Plan] values without touching data.
// Evaluation reads one collection, applies one temporal operation and
// reprojects onto the target grid:
//
//	static   single image as-is (terrain)
//	reduce   one band per period selector (composites, climatologies)
//	stack    one band per timestamp and field in [begin, end)
//
// Band order is always deterministic. Reductions follow the caller's period
// order; stacks sort by timestamp, then field.
package pipeline

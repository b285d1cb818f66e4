// Package kinematics provides the pluggable forward transform from
// axis-space travel to motor steps that spec.md's Non-goals section
// allows ("a simple pluggable forward transform") without requiring
// general non-Cartesian kinematics.
package kinematics

import "github.com/user-none/motioncore/axis"

// Transform converts a per-segment axis-space travel vector into a
// motor-step count vector, given each axis's steps-per-unit scale.
// Implementations may reorder or mix axes (e.g. CoreXY) but must be a
// pure, allocation-free function of its inputs — it runs on every
// executor segment.
type Transform interface {
	StepsFor(travel axis.Vector, stepsPerUnit axis.Vector) [6]int32
}

// Cartesian is the identity transform: each axis's motor moves exactly
// its own travel, scaled by steps-per-unit and rounded to the nearest
// integer step.
type Cartesian struct{}

func (Cartesian) StepsFor(travel axis.Vector, stepsPerUnit axis.Vector) [6]int32 {
	var out [6]int32
	for i := range out {
		out[i] = round(travel[i] * stepsPerUnit[i])
	}
	return out
}

func round(f float64) int32 {
	if f >= 0 {
		return int32(f + 0.5)
	}
	return int32(f - 0.5)
}

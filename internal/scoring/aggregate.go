package scoring

import "math"

// aggregate combines the evaluator contributions into the final 0-100 risk
// score and orders the reasons deterministically: device, geo, behavioral,
// SIM. Identical inputs always produce identical output.
func aggregate(device deviceResult, geo geoResult, behavior behaviorResult, sim simResult) (int, []string) {
	total := device.Contribution + geo.Contribution + behavior.Contribution + sim.Contribution
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	reasons := make([]string, 0,
		len(device.Reasons)+len(geo.Reasons)+len(behavior.Reasons)+len(sim.Reasons))
	reasons = append(reasons, device.Reasons...)
	reasons = append(reasons, geo.Reasons...)
	reasons = append(reasons, behavior.Reasons...)
	reasons = append(reasons, sim.Reasons...)

	return roundHalfUp(total), reasons
}

// roundHalfUp rounds to the nearest integer with ties going up, so 49.5
// scores 50 rather than 49.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

package metrics

const (
	// Net energy cost of level locomotion, kcal per kg per km.
	flatKcalPerKgKm = 1.036
	// Joules per kcal.
	joulesPerKcal = 4184.0
	// Metabolic efficiency of vertical work.
	climbEfficiency = 0.22
	// Resting burn, kcal per kg per hour.
	restingKcalPerKgHour = 1.0

	gravity = 9.81
)

// Calories estimates the energy spent so far from weight, distance, climb
// and elapsed active time. The adjustment multiplier is injected rather than
// hardcoded; 1.0 is the neutral mid-point and callers may supply a
// population-specific factor.
func Calories(weightKg, distanceM, elevationGainM, activeSec, adjustment float64) float64 {
	if weightKg <= 0 || adjustment <= 0 {
		return 0
	}
	flat := flatKcalPerKgKm * weightKg * distanceM / 1000
	climb := weightKg * gravity * elevationGainM / joulesPerKcal / climbEfficiency
	resting := restingKcalPerKgHour * weightKg * activeSec / 3600
	return adjustment * (flat + climb + resting)
}

package autotune

import "sort"

// Gains is one set of PID parameters derived from the ultimate gain and
// period.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// DefaultRule is used when an unrecognised rule name is requested.
const DefaultRule = "ziegler-nichols"

// tuningRules maps rule name to its divisor triple [a, b, c]:
// Kp = Ku/a, Ki = Kp/(Pu/b), Kd = Kp*(Pu/c). The triples trade overshoot
// against aggressiveness.
var tuningRules = map[string][3]float64{
	"ziegler-nichols": {34, 40, 160},
	"tyreus-luyben":   {44, 9, 126},
	"ciancone-marlin": {66, 88, 162},
	"pessen-integral": {28, 50, 133},
	"some-overshoot":  {60, 40, 60},
	"no-overshoot":    {100, 40, 60},
	"brewing":         {2.5, 6, 380},
}

// Rules returns the known tuning rule names, sorted.
func Rules() []string {
	names := make([]string, 0, len(tuningRules))
	for name := range tuningRules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KnownRule reports whether name is a recognised tuning rule.
func KnownRule(name string) bool {
	_, ok := tuningRules[name]
	return ok
}

// ruleGains converts (Ku, Pu seconds) to PID gains under the named rule,
// falling back to DefaultRule for unknown names.
func ruleGains(rule string, ku, puSeconds float64) Gains {
	divisors, ok := tuningRules[rule]
	if !ok {
		divisors = tuningRules[DefaultRule]
	}
	kp := ku / divisors[0]
	return Gains{
		Kp: kp,
		Ki: kp / (puSeconds / divisors[1]),
		Kd: kp * (puSeconds / divisors[2]),
	}
}

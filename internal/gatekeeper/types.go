package gatekeeper

// Report summarizes one pipeline run. It never carries values.
type Report struct {
	MaskingApplied   bool `json:"masking_applied"`
	ShufflingApplied bool `json:"shuffling_applied"`
	Masked           int  `json:"masked"`
	ShuffledParents  int  `json:"shuffled_parents"`
	Shadowed         int  `json:"shadowed"`
}

// DefaultTagMap returns the built-in tag shadowing map. Each call returns a
// fresh map.
func DefaultTagMap() map[string]string {
	return map[string]string{
		"pressure":    "metric_alpha",
		"temperature": "thermal_beta",
		"velocity":    "kinematic_gamma",
		"coordinates": "spatial_delta",
	}
}

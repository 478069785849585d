package types

// Decision is the verdict of a download gate.
type Decision struct {
	Cancel  bool   `json:"cancel"`
	Reason  string `json:"reason,omitempty"`
	Decider string `json:"decider,omitempty"`
	// DryRun marks an allow that a stricter strategy would have blocked.
	DryRun bool `json:"dryRun,omitempty"`
}

func Allow() Decision {
	return Decision{}
}

func Deny(decider string, reason string) Decision {
	return Decision{Cancel: true, Reason: reason, Decider: decider}
}

package alert

// Kind identifies one class of rank-change alert. The values double as the
// persisted alert_type strings.
type Kind string

const (
	NewEntry     Kind = "new_entry"
	DroppedOut   Kind = "dropped_out"
	MovedUp      Kind = "moved_up"
	MovedDown    Kind = "moved_down"
	EnteredTop10 Kind = "entered_top_10"
	ExitedTop10  Kind = "exited_top_10"
	EnteredTop3  Kind = "entered_top_3"
	ExitedTop3   Kind = "exited_top_3"
)

// Thresholds tunes the movement rules.
type Thresholds struct {
	// MoveDelta is the minimum absolute position change for moved_up and
	// moved_down to fire.
	MoveDelta int
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{MoveDelta: 5}
}

// The rules are evaluated independently: a single transition may fire several
// of them at once (12 -> 2 is moved_up, entered_top_10, and entered_top_3).
// Smaller position = better rank. Comparisons against a nil position are not
// satisfiable, so transitions involving "not ranking" can only produce
// new_entry or dropped_out.
var rules = []struct {
	kind Kind
	hit  func(prev, next *int, t Thresholds) bool
}{
	{NewEntry, func(prev, next *int, _ Thresholds) bool {
		return prev == nil && next != nil
	}},
	{DroppedOut, func(prev, next *int, _ Thresholds) bool {
		return prev != nil && next == nil
	}},
	{MovedUp, func(prev, next *int, t Thresholds) bool {
		return prev != nil && next != nil && *prev-*next >= t.MoveDelta
	}},
	{MovedDown, func(prev, next *int, t Thresholds) bool {
		return prev != nil && next != nil && *next-*prev >= t.MoveDelta
	}},
	{EnteredTop10, crossedInto(10)},
	{ExitedTop10, crossedOut(10)},
	{EnteredTop3, crossedInto(3)},
	{ExitedTop3, crossedOut(3)},
}

func crossedInto(n int) func(prev, next *int, t Thresholds) bool {
	return func(prev, next *int, _ Thresholds) bool {
		return prev != nil && next != nil && *prev > n && *next <= n
	}
}

func crossedOut(n int) func(prev, next *int, t Thresholds) bool {
	return func(prev, next *int, _ Thresholds) bool {
		return prev != nil && next != nil && *prev <= n && *next > n
	}
}

// Detect returns the alert kinds fired by a prev -> next position transition.
// It is a pure function of its inputs; callers must not invoke it for the
// first-ever check of a keyword, which records a baseline and alerts on
// nothing.
func Detect(prev, next *int, t Thresholds) []Kind {
	if t.MoveDelta < 1 {
		t.MoveDelta = DefaultThresholds().MoveDelta
	}

	var fired []Kind
	for _, r := range rules {
		if r.hit(prev, next, t) {
			fired = append(fired, r.kind)
		}
	}
	return fired
}

// Delta returns the signed position change, positive when rank improved.
// It is zero when either side of the transition is "not ranking".
func Delta(prev, next *int) int {
	if prev == nil || next == nil {
		return 0
	}
	return *prev - *next
}

package driver

// Trigger names what caused a configure request. The set is open: hosts may define their
// own triggers and map them through a ReusePolicy
type Trigger string

const (
	// An explicit configure command
	Trigger_Command Trigger = "command"
	// An explicit clean-configure command
	Trigger_CleanCommand Trigger = "clean-command"
	// A workspace was opened and the host wants it configured if cheap
	Trigger_CacheReuse Trigger = "cache-reuse"
	// A tracked input file changed
	Trigger_InputChanged Trigger = "input-changed"
	// The active kit, preset or variant changed
	Trigger_SelectionChanged Trigger = "selection-changed"
	// A workflow step requested the configure
	Trigger_Workflow Trigger = "workflow"
)

// ReuseBehavior says whether a trigger may take the cached-configuration path instead of
// running a full configure
type ReuseBehavior int

const (
	// Always run a full configure
	Reuse_Never ReuseBehavior = iota
	// Reuse the on-disk cache, but only before the first configure of this session
	Reuse_IfNotConfigured
)

// ReusePolicy maps triggers to their cache-reuse behavior. Triggers absent from the map
// never reuse
type ReusePolicy map[Trigger]ReuseBehavior

// DefaultReusePolicy reproduces the default heuristic: only the cache-reuse trigger takes
// the cheap path, and only while the session has never configured
func DefaultReusePolicy() ReusePolicy {
	return ReusePolicy{
		Trigger_CacheReuse: Reuse_IfNotConfigured,
	}
}

func (p ReusePolicy) behavior(trigger Trigger) ReuseBehavior {
	if p == nil {
		return Reuse_Never
	}

	return p[trigger]
}

package core

// ClusterState is the coordinator's view of a cluster's coherency fabric.
type ClusterState string

const (
	ClusterUp        ClusterState = "UP"
	ClusterGoingDown ClusterState = "GOING_DOWN"
	ClusterDown      ClusterState = "DOWN"
)

// CPUState is the coordinator's view of a single core.
type CPUState string

const (
	CPUDown      CPUState = "CPU_DOWN"
	CPUComingUp  CPUState = "CPU_COMING_UP"
	CPUUp        CPUState = "CPU_UP"
	CPUGoingDown CPUState = "CPU_GOING_DOWN"
)

// InboundState tracks whether a core is bringing its cluster back up.
type InboundState string

const (
	InboundNotComingUp InboundState = "INBOUND_NOT_COMING_UP"
	InboundComingUp    InboundState = "INBOUND_COMING_UP"
)

// ResumeMode is the boot-vector behaviour a core takes on its next reset.
type ResumeMode string

const (
	ResumeColdBoot ResumeMode = "cold-boot"
	ResumeViaReset ResumeMode = "resume-via-reset"
)

// TeardownScope selects which cache levels a teardown cleans.
type TeardownScope int

const (
	// TeardownLocal cleans the levels private to the calling core.
	TeardownLocal TeardownScope = iota
	// TeardownCluster cleans every level participating in cluster coherency.
	TeardownCluster
)

func (s TeardownScope) String() string {
	switch s {
	case TeardownLocal:
		return "local"
	case TeardownCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// Outcome is what PowerDown reports on the only path that returns normally.
type Outcome struct {
	// SkipSuspend is set when a power-up overtook the power-down.
	SkipSuspend bool
}

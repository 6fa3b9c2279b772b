package core

import "fmt"

// Static table dimensions. A platform description may populate fewer cores
// per cluster, never more.
const (
	CoresPerCluster = 4
	ClusterCount    = 2
)

// MPIDR is the raw value of a core's multiprocessor affinity register.
type MPIDR uint64

// Affinity returns the 8-bit affinity field at the given level.
func (m MPIDR) Affinity(level uint) uint {
	return uint(m>>(8*level)) & 0xff
}

// MPIDRFor encodes a core identity the way the hardware reports it.
func MPIDRFor(id CoreID) MPIDR {
	return MPIDR(id.Cluster&0xff)<<8 | MPIDR(id.Core&0xff)
}

// CoreID identifies a physical core by its position in a cluster.
type CoreID struct {
	Core    uint `json:"core" yaml:"core"`
	Cluster uint `json:"cluster" yaml:"cluster"`
}

// CoreIDFromMPIDR decodes Aff0 as the core index and Aff1 as the cluster index.
func CoreIDFromMPIDR(m MPIDR) CoreID {
	return CoreID{Core: m.Affinity(0), Cluster: m.Affinity(1)}
}

// InRange reports whether the identity fits the static table.
func (id CoreID) InRange() bool {
	return id.Core < CoresPerCluster && id.Cluster < ClusterCount
}

func (id CoreID) String() string {
	return fmt.Sprintf("cpu%d/cluster%d", id.Core, id.Cluster)
}

// Topology lists how many cores each cluster actually has.
type Topology struct {
	Cores []uint
}

// Clusters returns the number of populated clusters.
func (t Topology) Clusters() uint {
	return uint(len(t.Cores))
}

// Contains reports whether id names a populated core.
func (t Topology) Contains(id CoreID) bool {
	if !id.InRange() || id.Cluster >= t.Clusters() {
		return false
	}
	return id.Core < t.Cores[id.Cluster]
}

// All returns every populated core, cluster-major.
func (t Topology) All() []CoreID {
	var out []CoreID
	for cluster, n := range t.Cores {
		for c := uint(0); c < n; c++ {
			out = append(out, CoreID{Core: c, Cluster: uint(cluster)})
		}
	}
	return out
}

// InCluster returns the populated cores of one cluster.
func (t Topology) InCluster(cluster uint) []CoreID {
	if cluster >= t.Clusters() {
		return nil
	}
	out := make([]CoreID, 0, t.Cores[cluster])
	for c := uint(0); c < t.Cores[cluster]; c++ {
		out = append(out, CoreID{Core: c, Cluster: cluster})
	}
	return out
}

// Validate checks the topology against the static table dimensions.
func (t Topology) Validate() error {
	if len(t.Cores) == 0 {
		return fmt.Errorf("topology has no clusters")
	}
	if len(t.Cores) > ClusterCount {
		return fmt.Errorf("topology has %d clusters, at most %d supported", len(t.Cores), ClusterCount)
	}
	for cluster, n := range t.Cores {
		if n == 0 || n > CoresPerCluster {
			return fmt.Errorf("cluster %d has %d cores, want 1..%d", cluster, n, CoresPerCluster)
		}
	}
	return nil
}

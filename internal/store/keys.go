package store

// Key layout shared by every node. Each node writes only its own keys,
// except LamportGlobalKey which is advanced through MaxAndSet.
const (
	LamportGlobalKey  = "lamport:global"
	VectorNodesKey    = "vector:nodes"
	VersionNodesKey   = "version:nodes"
	lamportClockKey   = "lamport:clock:"
	vectorClockKey    = "vector:clock:"
	versionVectorKey  = "version:vector:"
	versionHistoryKey = "version:history:"
	versionMergeKey   = "version:merge:"
)

// LamportClockKey returns the key holding a node's last Lamport time
func LamportClockKey(nodeID string) string {
	return lamportClockKey + nodeID
}

// VectorClockKey returns the key holding a node's vector clock
func VectorClockKey(nodeID string) string {
	return vectorClockKey + nodeID
}

// VersionVectorKey returns the key holding a node's version vector
func VersionVectorKey(nodeID string) string {
	return versionVectorKey + nodeID
}

// VersionHistoryKey returns the list key of a node's past version vectors
func VersionHistoryKey(nodeID string) string {
	return versionHistoryKey + nodeID
}

// VersionMergeKey returns the list key of a node's merge records
func VersionMergeKey(nodeID string) string {
	return versionMergeKey + nodeID
}

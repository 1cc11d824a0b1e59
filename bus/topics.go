package bus

import "github.com/encodeous/tasknet/state"

// ChildTopic is where children publish to their parent.
func ChildTopic(name string) string {
	return name
}

func PeerTopic(name string) string {
	return name + state.PeerSuffix
}

// ParentTopic is where a parent publishes to the named child.
func ParentTopic(name string) string {
	return name + state.ParentSuffix
}

func StateTopic(name string) string {
	return name + state.StateSuffix
}

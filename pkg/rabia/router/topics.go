package router

// Topics for the topology manager's and the leader manager's events.
// Declared centrally so every subscriber imports one name for a given
// event instead of restating a string literal. The proto.* topics are
// declared but nothing in this module routes them: the engine exchanges
// protocol messages through its transport.Transport, not through a Router.
const (
	TopicNodeAdded     Topic = "topology.node_added"
	TopicNodeRemoved   Topic = "topology.node_removed"
	TopicNodeDown      Topic = "topology.node_down"
	TopicQuorumState   Topic = "topology.quorum_state"
	TopicLeaderChange  Topic = "leader.change"
	TopicPropose       Topic = "proto.propose"
	TopicVoteRound1    Topic = "proto.vote_r1"
	TopicVoteRound2    Topic = "proto.vote_r2"
	TopicDecision      Topic = "proto.decision"
	TopicNewBatch      Topic = "proto.new_batch"
	TopicSyncRequest   Topic = "proto.sync_request"
	TopicSyncResponse  Topic = "proto.sync_response"
)

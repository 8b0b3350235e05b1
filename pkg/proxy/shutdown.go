package proxy

// ShutdownPolicy decides whether a remote-requested graceful shutdown is
// accepted. The decision is left pluggable rather than fixed, since whether
// to accept a shutdown request from a given node is a deployment policy, not
// a protocol invariant.
type ShutdownPolicy func(node string) bool

// AlwaysAccept is a ShutdownPolicy that always acks, suitable for a
// single-node or trusted-peer deployment.
func AlwaysAccept(string) bool { return true }

// HandleShutdownRequest applies policy to a remote shutdown request and
// emits the matching acknowledgment.
func (m *Multiplexer) HandleShutdownRequest(node string, policy ShutdownPolicy) {
	if policy == nil {
		policy = AlwaysAccept
	}
	op := OpShutdownNack
	if policy(node) {
		op = OpShutdownAck
	}
	m.send(node, &Envelope{Op: op})
}

// Versioning: each client-node peer declares a client_version/
// server_version pair in the shared activation record, and individual
// features are gated on both sides meeting a minimum (spec §4.10
// "Versioning... features (e.g., AsyncBuffers, ParamRoute) are gated on
// both sides being >= a version threshold").
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

// ProtocolVersion is this implementation's client-node wire version.
const ProtocolVersion uint32 = 3

// Feature names a version-gated capability.
type Feature int

const (
	// FeatureAsyncBuffers gates the paired double-buffered IO-buffers
	// slots used for LinkModeAsync (spec §4.7 "Overruns... ASYNC (use
	// paired AsyncBuffers with double-buffered slots)").
	FeatureAsyncBuffers Feature = iota
	// FeatureParamRoute gates routing a param change notification to a
	// specific downstream port rather than broadcasting it.
	FeatureParamRoute
)

// featureMinVersion is the minimum negotiated version each feature
// requires on both peers.
var featureMinVersion = map[Feature]uint32{
	FeatureAsyncBuffers: 2,
	FeatureParamRoute:   3,
}

// NegotiateVersion resolves the version both peers will operate at: the
// lower of the two declared versions, since a peer cannot be asked to
// understand a wire feature its own build predates.
func NegotiateVersion(clientVersion, serverVersion uint32) uint32 {
	if clientVersion < serverVersion {
		return clientVersion
	}
	return serverVersion
}

// HasFeature reports whether feature is available at the negotiated
// version.
func HasFeature(negotiated uint32, feature Feature) bool {
	min, ok := featureMinVersion[feature]
	if !ok {
		return false
	}
	return negotiated >= min
}

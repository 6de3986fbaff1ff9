package twitch

// PersistedQuery pins an operation to a query hash known server side,
// so no query text travels with the request.
type PersistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

// Extensions wraps the persisted query extension of a GQL request.
type Extensions struct {
	PersistedQuery PersistedQuery `json:"persistedQuery"`
}

// GQLOperation is one persisted GraphQL operation ready to send.
type GQLOperation struct {
	OperationName string         `json:"operationName"`
	Extensions    Extensions     `json:"extensions"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// WithVariables returns a copy of the operation carrying the given
// variables. The catalog entries themselves stay untouched.
func (op GQLOperation) WithVariables(variables map[string]any) GQLOperation {
	op.Variables = variables
	return op
}

func newOperation(name, hash string) GQLOperation {
	return GQLOperation{
		OperationName: name,
		Extensions: Extensions{
			PersistedQuery: PersistedQuery{Version: 1, SHA256Hash: hash},
		},
	}
}

// Operations used by the client. The hashes belong to the web client's
// persisted queries and must match exactly.
var (
	opStreamInfo = newOperation(
		"VideoPlayerStreamInfoOverlayChannel",
		"a5f2e34d626a9f4f5c0204f910bab2194948a9502089be558bb6e779a9e1b3d2",
	)
	opClaimCommunityPoints = newOperation(
		"ClaimCommunityPoints",
		"46aaeebe02c99afdf4fc97c7c0cba964124bf6b0af229395f1f6d1feed05b3d0",
	)
	opClaimDrop = newOperation(
		"DropsPage_ClaimDropRewards",
		"2f884fa187b8fadb2a49db0adc033e636f7b6aaee6e76de1e2bba9a7baf0daf6",
	)
	opChannelPointsContext = newOperation(
		"ChannelPointsContext",
		"9988086babc615a918a1e9a722ff41d98847acac822645209ac7379eecb27152",
	)
	opInventory = newOperation(
		"Inventory",
		"e0765ebaa8e8eeb4043cc6dfeab3eac7f682ef5f724b81367e6e55c7aef2be4c",
	)
	opChannelID = newOperation(
		"ReportMenuItem",
		"8f3628981255345ca5e5453dfd844efffb01d6413a9931498836e6268692a30c",
	)
	opIsStreamLive = newOperation(
		"WithIsStreamLiveQuery",
		"04e46329a6786ff3a81c01c50bfa5d725902507a0deb83b0edbf7abe7a3716ea",
	)
)

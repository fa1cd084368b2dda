// Package obs maintains the control-protocol session to the remote mixing
// application: handshake, identification, request/response correlation,
// event demultiplexing, reconnection and health monitoring.
package obs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// Websocket protocol opcodes.
const (
	opHello           = 0 // server -> client, may carry an auth challenge
	opIdentify        = 1 // client -> server
	opIdentified      = 2 // server -> client, session ready
	opEvent           = 5 // server -> client
	opRequest         = 6 // client -> server
	opRequestResponse = 7 // server -> client
)

// Event subscription bits sent in the Identify payload. The high-volume
// volume-meters bit is separate from the standard set; forgetting to OR it in
// silently disables live level metering without any connection error.
const (
	subStandard          = 2047
	subInputVolumeMeters = 1 << 16
)

const rpcVersion = 1

// envelope is the outer frame of every protocol message.
type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string         `json:"obsWebSocketVersion"`
	RPCVersion          int            `json:"rpcVersion"`
	Authentication      *authChallenge `json:"authentication,omitempty"`
}

type authChallenge struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestEnvelope struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type responseEnvelope struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

type eventEnvelope struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

func marshalEnvelope(op int, d any) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: op, D: raw})
}

// authResponse computes the challenge response for the Identify payload:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])

	responseHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(responseHash[:])
}

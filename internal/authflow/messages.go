// ABOUTME: JSON wire messages for the challenge/response login protocol
// ABOUTME: Every message is a single top-level key, client- and server-side

package authflow

import (
	"encoding/json"
	"fmt"
)

const contentTypeJSON = "application/json"

// credBytes decodes the wire form of credentials: a JSON array of byte
// values. Plain []byte would expect base64, which is not what clients send.
type credBytes []byte

func (c *credBytes) UnmarshalJSON(data []byte) error {
	var vals []int
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	b := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return fmt.Errorf("credential byte %d out of range: %d", i, v)
		}
		b[i] = byte(v)
	}
	*c = b
	return nil
}

// clientMessage is the union of client-sent protocol messages. Exactly one
// field is expected per message.
type clientMessage struct {
	AuthUser        string    `json:"authUser,omitempty"`
	AuthCredentials credBytes `json:"authCredentials,omitempty"`
}

func parseClientMessage(raw []byte) (*clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // all payload shapes below are marshalable by construction
	}
	return b
}

// Server-sent protocol messages.

func requestCredentialsMsg(uid string) []byte {
	return mustMarshal(map[string]string{"requestCredentials": uid})
}

func acceptMsg(uid string) []byte {
	return mustMarshal(map[string]string{"accept": uid})
}

func rejectMsg(reason string) []byte {
	return mustMarshal(map[string]string{"reject": reason})
}

func alertMsg(text string) []byte {
	return mustMarshal(map[string]string{"alert": text})
}

// StartAuthMessage is the server-initiated prompt asking an already-open
// connection to (re-)authenticate as uid.
func StartAuthMessage(uid string) []byte {
	return mustMarshal(map[string]string{"startAuth": uid})
}

// ABOUTME: Tagged-union auth protocol outcome shared by every AuthMethod
// ABOUTME: Challenge means keep talking, Accept/Reject terminate the attempt

package authflow

// Kind discriminates the Response union.
type Kind int

const (
	// KindChallenge: the protocol is not complete, more data is requested
	// from the client.
	KindChallenge Kind = iota
	// KindAccept: the protocol completed; the caller (and only the
	// caller) turns this into a session.
	KindAccept
	// KindReject: the protocol terminally failed for this attempt.
	KindReject
)

func (k Kind) String() string {
	switch k {
	case KindChallenge:
		return "challenge"
	case KindAccept:
		return "accept"
	case KindReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Response is the single channel through which a Method communicates with
// the route layer. UID is set only for KindAccept.
type Response struct {
	Kind        Kind
	UID         string
	Payload     []byte
	ContentType string
}

// NewChallenge builds a Challenge response with a JSON payload.
func NewChallenge(payload []byte) *Response {
	return &Response{Kind: KindChallenge, Payload: payload, ContentType: contentTypeJSON}
}

// NewAccept builds an Accept response for uid with a JSON payload.
func NewAccept(uid string, payload []byte) *Response {
	return &Response{Kind: KindAccept, UID: uid, Payload: payload, ContentType: contentTypeJSON}
}

// NewReject builds a Reject response with a JSON payload.
func NewReject(payload []byte) *Response {
	return &Response{Kind: KindReject, Payload: payload, ContentType: contentTypeJSON}
}

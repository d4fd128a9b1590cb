package hub

// Inbound message types accepted from clients.
const (
	msgAuth        = "auth"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
)

// Outbound message types sent to clients.
const (
	msgConnection   = "connection"
	msgAuthSuccess  = "auth_success"
	msgAuthError    = "auth_error"
	msgSubscribed   = "subscribed"
	msgUnsubscribed = "unsubscribed"
	msgPong         = "pong"
	msgUpdate       = "update"
	msgError        = "error"
)

// clientMessage is the inbound envelope. Every field a valid message
// can carry is represented here; handleMessage switches on Type and
// validates the fields that type requires.
type clientMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Resource string `json:"resource,omitempty"`
	ID       int64  `json:"id,omitempty"`
}

// connectionMessage is the first message sent after a successful
// upgrade; it hands the client its server-generated identifier.
type connectionMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type authSuccessMessage struct {
	Type     string `json:"type"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type authErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type subscriptionMessage struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
	ID       int64  `json:"id"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// updateMessage carries one fan-out event to a topic subscriber.
type updateMessage struct {
	Type      string `json:"type"`
	Resource  string `json:"resource"`
	ID        int64  `json:"id"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Package proto defines the wire protocol: newline-delimited UTF-8 JSON
// frames carrying a numeric type discriminator, a unique message id and a
// millisecond timestamp.
package proto

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Type is the numeric message discriminator. The code space is stable:
// decoders reject codes they do not know.
type Type int

const (
	// Connection
	TypeConnect         Type = 0
	TypeConnectResponse Type = 1
	TypeDisconnect      Type = 2
	TypeHeartbeat       Type = 3
	TypeHeartbeatAck    Type = 4

	// Auth
	TypeLogin            Type = 10
	TypeLoginResponse    Type = 11
	TypeLogout           Type = 12
	TypeRegister         Type = 13
	TypeRegisterResponse Type = 14

	// Matchmaking
	TypeFindMatch       Type = 20
	TypeCancelFindMatch Type = 21
	TypeMatchFound      Type = 22
	TypeQueueStatus     Type = 23

	// Game flow
	TypeGameStart Type = 30
	TypeGameState Type = 31
	TypeGameEnd   Type = 32

	// Moves
	TypeMoveRequest      Type = 40
	TypeMoveResponse     Type = 41
	TypeMoveNotification Type = 42

	// Actions
	TypeResign      Type = 50
	TypeOfferDraw   Type = 51
	TypeDrawOffered Type = 52
	TypeAcceptDraw  Type = 53
	TypeDeclineDraw Type = 54

	// Time
	TypeTimeUpdate     Type = 60
	TypeTimeoutWarning Type = 61

	// Error
	TypeError Type = 99
)

// Error codes used by the core.
const (
	CodeUnknownMessage     = "UNKNOWN_MESSAGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeNotLoggedIn        = "NOT_LOGGED_IN"
	CodePlayerNotFound     = "PLAYER_NOT_FOUND"
	CodeSessionReplaced    = "SESSION_REPLACED"
	CodeSessionError       = "SESSION_ERROR"
	CodeInvalidUsername    = "INVALID_USERNAME"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeUsernameTaken      = "USERNAME_TAKEN"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeDrawDeclined       = "DRAW_DECLINED"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeAccountBanned      = "ACCOUNT_BANNED"
	CodeDisconnected       = "DISCONNECTED"
)

// Header is embedded in every message.
type Header struct {
	Type      Type   `json:"type"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// Kind returns the message type.
func (h Header) Kind() Type {
	return h.Type
}

// ID returns the message id.
func (h Header) ID() string {
	return h.MessageID
}

// Message is any wire message.
type Message interface {
	Kind() Type
	ID() string
}

// NewHeader returns a header with the given type, a fresh 16-hex-char
// message id and the current time.
func NewHeader(t Type) Header {
	return Header{
		Type:      t,
		MessageID: newMessageID(),
		Timestamp: time.Now().UnixMilli(),
	}
}

func newMessageID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

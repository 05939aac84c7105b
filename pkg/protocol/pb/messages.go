// Package pb defines the Command and Event unions carried on the wire and
// used in server-side memory. Field names and numeric tags are part of the
// compatibility contract with the destiny.gg-style chat ecosystem; do not
// renumber existing variants.
package pb

// Command variant tags. Each variant has a distinct, stable one-byte tag
// used as the frame discriminator.
type CommandTag uint8

const (
	TagMessage     CommandTag = 0
	TagPrivMessage CommandTag = 1
	TagMute        CommandTag = 2
	TagUnmute      CommandTag = 3
	TagBan         CommandTag = 4
	TagUnban       CommandTag = 5
	TagSubonly     CommandTag = 6
	TagPing        CommandTag = 7
)

// Event variant tags.
type EventTag uint8

const (
	TagIssueCommand EventTag = 0
	TagPong         EventTag = 1
	TagBroadcast    EventTag = 2
	TagError        EventTag = 3
)

// Scope is the delivery scope ("concerns") of an Event.
type Scope uint8

const (
	ScopeAll    Scope = 0 // every connected session
	ScopeUser   Scope = 1 // exactly one named user
	ScopeServer Scope = 2 // server-internal collaborators only, never clients
)

// Command is the unit of input: an issuer plus exactly one payload variant.
// Issuer is stamped by the server from the session that sent the frame; it
// is never read from the wire. Commands are transient: validated, converted
// to zero or more events, then discarded.
type Command struct {
	Issuer string `json:"-"`

	// Exactly one of these is non-nil.
	Message     *Message     `json:"message,omitempty"`
	PrivMessage *PrivMessage `json:"priv_message,omitempty"`
	Mute        *Mute        `json:"mute,omitempty"`
	Unmute      *Unmute      `json:"unmute,omitempty"`
	Ban         *Ban         `json:"ban,omitempty"`
	Unban       *Unban       `json:"unban,omitempty"`
	Subonly     *Subonly     `json:"subonly,omitempty"`
	Ping        *Ping        `json:"ping,omitempty"`
}

// Tag returns the variant tag for the set payload. The boolean is false if
// zero or more than one payload is set (a malformed command).
func (c *Command) Tag() (CommandTag, bool) {
	var tag CommandTag
	n := 0
	if c.Message != nil {
		tag, n = TagMessage, n+1
	}
	if c.PrivMessage != nil {
		tag, n = TagPrivMessage, n+1
	}
	if c.Mute != nil {
		tag, n = TagMute, n+1
	}
	if c.Unmute != nil {
		tag, n = TagUnmute, n+1
	}
	if c.Ban != nil {
		tag, n = TagBan, n+1
	}
	if c.Unban != nil {
		tag, n = TagUnban, n+1
	}
	if c.Subonly != nil {
		tag, n = TagSubonly, n+1
	}
	if c.Ping != nil {
		tag, n = TagPing, n+1
	}
	return tag, n == 1
}

// Message is a public chat message, rendered by every client.
type Message struct {
	Contents string `json:"contents"`
}

// PrivMessage is an end-to-end encrypted message for a single recipient.
// Ciphertext is sealed client-side; the server relays it verbatim and holds
// no key material.
type PrivMessage struct {
	To         string `json:"to"`
	Ciphertext []byte `json:"ciphertext"`
}

// Mute silences a user for a number of nanoseconds. Zero means permanent
// until an explicit unmute.
type Mute struct {
	User     string `json:"user"`
	Duration int64  `json:"duration"` // nanoseconds
}

// Unmute lifts a user's mute.
type Unmute struct {
	User string `json:"user"`
}

// Ban removes a user from chat. Duration zero means permanent until an
// explicit unban.
type Ban struct {
	User     string `json:"user"`
	Reason   string `json:"reason,omitempty"`
	Duration int64  `json:"duration"` // nanoseconds
}

// Unban lifts a user's ban.
type Unban struct {
	User string `json:"user"`
}

// Subonly toggles subscriber-only mode.
type Subonly struct {
	On bool `json:"on"`
}

// Ping requests a pong echoing the initiation timestamp unchanged, so the
// client can measure round-trip latency against its own clock.
type Ping struct {
	InitiationTimestamp int64 `json:"initiationTimestamp"`
}

// Event is the unit of delivery: exactly one concerns scope and exactly one
// payload variant. Events are immutable values once constructed.
type Event struct {
	Scope Scope `json:"-"`
	// User is the target username when Scope is ScopeUser. Routing state
	// only; the recipient is implied by the connection on the wire.
	User string `json:"-"`

	// Exactly one of these is non-nil.
	IssueCommand *IssueCommand `json:"issue_command,omitempty"`
	Pong         *Pong         `json:"pong,omitempty"`
	Broadcast    *Broadcast    `json:"broadcast,omitempty"`
	Error        *Error        `json:"error,omitempty"`
}

// Tag returns the variant tag for the set payload. The boolean is false if
// zero or more than one payload is set.
func (e *Event) Tag() (EventTag, bool) {
	var tag EventTag
	n := 0
	if e.IssueCommand != nil {
		tag, n = TagIssueCommand, n+1
	}
	if e.Pong != nil {
		tag, n = TagPong, n+1
	}
	if e.Broadcast != nil {
		tag, n = TagBroadcast, n+1
	}
	if e.Error != nil {
		tag, n = TagError, n+1
	}
	return tag, n == 1
}

// IssueCommand wraps an accepted moderation command for server-internal
// collaborators (moderation log, persistence). Always ScopeServer.
type IssueCommand struct {
	Command *Command `json:"command"`
}

// Pong echoes a ping's initiation timestamp without clock substitution.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Broadcast carries chat text to clients. For private messages Contents is
// empty and Ciphertext holds the sealed payload verbatim.
type Broadcast struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	Contents   string `json:"contents,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Error reports a rejected command to the issuing user only. Errors are
// never broadcast.
type Error struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

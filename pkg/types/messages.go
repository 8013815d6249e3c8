package types

// Client -> Host (routed to the host only)
//   JOIN:   playerId, name, avatar
//   ANSWER: playerId, optionIndex, elapsedMs
//   SMASH:  playerId, optionIndex
//
// Host -> Players (broadcast)
//   STATE_UPDATE: version, phase, questionIndex, questionCount,
//                 countdownRemaining?, roster?, settings?, question?
//
// Broker -> Client
//   ERROR: code, message

type Kind string

const (
	KindJoin        Kind = "JOIN"
	KindAnswer      Kind = "ANSWER"
	KindSmash       Kind = "SMASH"
	KindStateUpdate Kind = "STATE_UPDATE"
	KindError       Kind = "ERROR"
)

// Message is the closed set of payloads that travel inside an Envelope.
type Message interface {
	Kind() Kind
	isMessage()
}

type Join struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
}

type Answer struct {
	PlayerID    string `json:"playerId"`
	OptionIndex int    `json:"optionIndex"`
	ElapsedMs   int64  `json:"elapsedMs"`
}

type Smash struct {
	PlayerID    string `json:"playerId"`
	OptionIndex int    `json:"optionIndex"`
}

type StateUpdate struct {
	Version            int           `json:"version"`
	Phase              string        `json:"phase"`
	QuestionIndex      int           `json:"questionIndex"`
	QuestionCount      int           `json:"questionCount"`
	CountdownRemaining *int          `json:"countdownRemaining,omitempty"`
	Roster             []PlayerView  `json:"roster,omitempty"`
	Settings           *Settings     `json:"settings,omitempty"`
	Question           *QuestionView `json:"question,omitempty"`
}

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (Join) Kind() Kind        { return KindJoin }
func (Answer) Kind() Kind      { return KindAnswer }
func (Smash) Kind() Kind       { return KindSmash }
func (StateUpdate) Kind() Kind { return KindStateUpdate }
func (Error) Kind() Kind       { return KindError }

func (Join) isMessage()        {}
func (Answer) isMessage()      {}
func (Smash) isMessage()       {}
func (StateUpdate) isMessage() {}
func (Error) isMessage()       {}

type PlayerView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
	Rank          int    `json:"rank"`
	PrevRank      int    `json:"prevRank"`
	LastOutcome   string `json:"lastOutcome,omitempty"` // "correct" | "incorrect" | "missed"
	LastLatencyMs int64  `json:"lastLatencyMs,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type Settings struct {
	Mode         string `json:"mode"` // "CLASSIC" | "SMASH"
	CountdownSec int    `json:"countdownSec"`
	AutoPlay     bool   `json:"autoPlay"`
}

type QuestionView struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	TimeLimitSec int      `json:"timeLimitSec"`
	CorrectIndex *int     `json:"correctIndex,omitempty"` // revealed once the question has resolved
}

// Role is the side of a room a connection speaks for.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

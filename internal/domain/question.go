package domain

// Reserved record keys. Everything else in a raw record must name a question position.
const (
	KeyClient     = "client"
	KeyRespondent = "respondent"
	KeySession    = "session"
	KeyMode       = "mode"
	KeyTimestamp  = "timestamp"
)

// NoResponse is written for an answer slot with no usable content.
const NoResponse = "<no response>"

// ReservedColumns are appended to the question columns of every survey table, in order.
var ReservedColumns = []string{KeyClient, KeySession, KeyMode}

// IsReservedKey reports whether key is a system field rather than an answer field.
func IsReservedKey(key string) bool {
	switch key {
	case KeyClient, KeyRespondent, KeySession, KeyMode, KeyTimestamp:
		return true
	}
	return false
}

// QuestionDef is one resolved question of a schema.
type QuestionDef struct {
	Position    int      `json:"position"`
	Text        string   `json:"text"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Options     []string `json:"options,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Group       string   `json:"group,omitempty"`
}

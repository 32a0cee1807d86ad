package ir

import (
	"errors"
	"fmt"
	"math"
)

// Validation error codes (E100-E199)
const (
	// Key errors (E100-E104)
	ErrInvalidChatID    = "E100" // chat_id must be non-zero
	ErrInvalidTopicID   = "E101" // topic_id must be >= 0
	ErrInvalidSubjectID = "E102" // subject_id must be non-zero
	ErrInvalidGroupID   = "E103" // group_id must be non-zero

	// Field errors (E110-E119)
	ErrInvalidSequence = "E110" // sequence outside [0, MaxInt64]
	ErrUnknownField    = "E111" // field is not tracked
	ErrFieldKind       = "E112" // value of the wrong kind for the field
	ErrFieldRange      = "E113" // value outside the field's range

	// Membership errors (E120-E129)
	ErrInvalidTime = "E120" // timestamp missing or outside the representable range
	ErrInvalidKind = "E121" // membership change is neither joined nor left
)

// ValidationError describes why an event was rejected before reaching the
// merge logic.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

func invalid(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code}
}

// AsValidationError extracts a *ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Validate checks the key shape.
func (k TopicKey) Validate() error {
	if k.ChatID == 0 {
		return invalid(ErrInvalidChatID, "chat_id", "must be non-zero")
	}
	if k.TopicID < 0 {
		return invalid(ErrInvalidTopicID, "topic_id", "must be >= 0, got %d", k.TopicID)
	}
	return nil
}

// Validate checks the key shape, the sequence range and every carried field.
// An event carrying no fields is valid.
func (e SequencedEvent) Validate() error {
	if err := e.Key.Validate(); err != nil {
		return err
	}
	if e.Sequence < 0 {
		return invalid(ErrInvalidSequence, "sequence", "must be >= 0, got %d", e.Sequence)
	}
	for f, v := range e.Fields {
		want, ok := f.Kind()
		if !ok {
			return invalid(ErrUnknownField, string(f), "unknown topic field")
		}
		if v == nil {
			continue
		}
		if v.Kind() != want {
			return invalid(ErrFieldKind, string(f), "want %s, got %s", want, v.Kind())
		}
		if f == FieldIconColor {
			n := int64(v.(Int))
			if n < math.MinInt32 || n > math.MaxInt32 {
				return invalid(ErrFieldRange, string(f), "%d does not fit in 32 bits", n)
			}
		}
	}
	return nil
}

func (u TopicUpdate) Validate() error {
	return u.Sequenced().Validate()
}

func (k ResidencyKey) Validate() error {
	if k.SubjectID == 0 {
		return invalid(ErrInvalidSubjectID, "subject_id", "must be non-zero")
	}
	if k.GroupID == 0 {
		return invalid(ErrInvalidGroupID, "group_id", "must be non-zero")
	}
	return nil
}

// Validate checks the key, the timestamp range and the transition kind.
func (e MembershipEvent) Validate() error {
	if err := e.Key().Validate(); err != nil {
		return err
	}
	if e.At.IsZero() {
		return invalid(ErrInvalidTime, "at", "timestamp is required")
	}
	if e.At.Before(MinTime) || e.At.After(MaxTime) {
		return invalid(ErrInvalidTime, "at", "%s outside [%s, %s]",
			e.At.UTC().Format("2006-01-02T15:04:05Z07:00"), MinTime.Format("2006-01-02"), MaxTime.Format("2006-01-02"))
	}
	if e.Kind != Joined && e.Kind != Left {
		return invalid(ErrInvalidKind, "kind", "must be joined or left, got %d", int(e.Kind))
	}
	return nil
}

package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed event identity.
// The version suffix allows the algorithm to change later.
const (
	DomainTopicEvent      = "converge/topic-event/v1"
	DomainMembershipEvent = "converge/membership-event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TopicEventDocument is the canonical document of a topic event: the one that
// is hashed into its ID and golden-snapshotted. Absent fields are omitted.
func TopicEventDocument(ev SequencedEvent) Object {
	fields := Object{}
	for _, f := range TopicFields {
		if v := ev.Get(f); v != nil {
			fields[string(f)] = v
		}
	}
	return Object{
		"chat_id":  Int(ev.Key.ChatID),
		"topic_id": Int(ev.Key.TopicID),
		"sequence": Int(ev.Sequence),
		"fields":   fields,
	}
}

// MembershipEventDocument is the canonical document of a membership event.
func MembershipEventDocument(ev MembershipEvent) Object {
	return Object{
		"subject_id": Int(ev.SubjectID),
		"group_id":   Int(ev.GroupID),
		"at_ms":      Int(ToMillis(ev.At)),
		"change":     String(ev.Kind.String()),
	}
}

// TopicEventID computes the content-addressed ID of a topic event. Exact
// redeliveries of the same event share an ID.
func TopicEventID(ev SequencedEvent) (string, error) {
	canonical, err := MarshalCanonical(TopicEventDocument(ev))
	if err != nil {
		return "", fmt.Errorf("TopicEventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTopicEvent, canonical), nil
}

// MembershipEventID computes the content-addressed ID of a membership event.
func MembershipEventID(ev MembershipEvent) (string, error) {
	canonical, err := MarshalCanonical(MembershipEventDocument(ev))
	if err != nil {
		return "", fmt.Errorf("MembershipEventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMembershipEvent, canonical), nil
}

// MustTopicEventID is like TopicEventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTopicEventID(ev SequencedEvent) string {
	id, err := TopicEventID(ev)
	if err != nil {
		panic(err)
	}
	return id
}

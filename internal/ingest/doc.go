// Package ingest turns producer payloads into engine events.
//
// Producers speak JSON Lines: one object per line, discriminated by "kind".
//
//	{"kind":"topic_update","chat_id":-100123,"topic_id":7,"sequence":42,"name":"General"}
//	{"kind":"membership","subject_id":1001,"group_id":-100123,"at":"2026-01-02T15:04:05Z","change":"joined"}
//	{"kind":"chat_member","subject_id":1001,"group_id":-100123,"at":"2026-01-02T15:04:05Z","old_present":false,"new_present":true}
//
// chat_member records are raw platform member updates. They become
// membership events only when presence flips, and only for non-bot members
// of residential groups.
//
// The same format is read from files by `converge apply` and from NATS
// messages by the Subscriber.
package ingest

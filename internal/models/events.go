package models

// EventType names an outbound event.
type EventType string

const (
	EventJoinedGroup      EventType = "joinedGroup"
	EventMemberJoined     EventType = "memberJoined"
	EventMemberLeft       EventType = "memberLeft"
	EventChatMessage      EventType = "chatMessage"
	EventDocumentSnapshot EventType = "documentSnapshot"
	EventDocumentUpdated  EventType = "documentUpdated"
	EventMembersUpdated   EventType = "membersUpdated"
	EventRejected         EventType = "rejected"
)

// Event is one outbound notification. Payload is one of the *Payload types
// below or a ChatMessage.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type MembersPayload struct {
	Members []SessionSummary `json:"members"`
}

type MemberChangePayload struct {
	DisplayName string           `json:"displayName"`
	Members     []SessionSummary `json:"members"`
}

type DocumentSnapshotPayload struct {
	Content string           `json:"content"`
	Members []SessionSummary `json:"members"`
}

type DocumentUpdatedPayload struct {
	Content string `json:"content"`
}

type RejectedPayload struct {
	Reason string `json:"reason"`
}

func JoinedGroupEvent(members []SessionSummary) Event {
	return Event{Type: EventJoinedGroup, Payload: MembersPayload{Members: members}}
}

func MemberJoinedEvent(displayName string, members []SessionSummary) Event {
	return Event{Type: EventMemberJoined, Payload: MemberChangePayload{DisplayName: displayName, Members: members}}
}

func MemberLeftEvent(displayName string, members []SessionSummary) Event {
	return Event{Type: EventMemberLeft, Payload: MemberChangePayload{DisplayName: displayName, Members: members}}
}

func ChatMessageEvent(msg ChatMessage) Event {
	return Event{Type: EventChatMessage, Payload: msg}
}

func DocumentSnapshotEvent(content string, members []SessionSummary) Event {
	return Event{Type: EventDocumentSnapshot, Payload: DocumentSnapshotPayload{Content: content, Members: members}}
}

func DocumentUpdatedEvent(content string) Event {
	return Event{Type: EventDocumentUpdated, Payload: DocumentUpdatedPayload{Content: content}}
}

func MembersUpdatedEvent(members []SessionSummary) Event {
	return Event{Type: EventMembersUpdated, Payload: MembersPayload{Members: members}}
}

func RejectedEvent(reason string) Event {
	return Event{Type: EventRejected, Payload: RejectedPayload{Reason: reason}}
}

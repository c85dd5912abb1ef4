package httpdto

import (
	"time"

	"squadlink/internal/domain/conversation"
	"squadlink/internal/timeline"
)

// ConversationDTO is one row of the conversation list as the UI shows it.
type ConversationDTO struct {
	RoomID           int64                `json:"room_id"`
	Name             string               `json:"name"`
	OtherParticipant conversation.Profile `json:"other_participant"`
	LastMessage      string               `json:"last_message,omitempty"`
	LastMessageAt    string               `json:"last_message_at,omitempty"`
	LastSenderID     string               `json:"last_sender_id,omitempty"`
	UnreadCount      int                  `json:"unread_count"`
	UpdatedAt        string               `json:"updated_at"`
}

type ListConversationsResponse struct {
	Conversations []ConversationDTO `json:"conversations"`
}

func ToConversationDTO(s conversation.Summary) ConversationDTO {
	dto := ConversationDTO{
		RoomID:           s.RoomID,
		Name:             s.Name,
		OtherParticipant: s.OtherParticipant,
		UnreadCount:      s.UnreadCount,
		UpdatedAt:        s.UpdatedAt.Format(time.RFC3339),
	}
	if s.LastMessage != nil {
		dto.LastMessage = timeline.PreviewText(s.LastMessage)
		dto.LastMessageAt = s.LastMessage.CreatedAt.Format(time.RFC3339)
		dto.LastSenderID = s.LastMessage.SenderID
	}
	return dto
}

func ToConversationDTOs(rows []conversation.Summary) []ConversationDTO {
	out := make([]ConversationDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, ToConversationDTO(r))
	}
	return out
}

package repository

// Store is the persistent store of the chat engine: message history, sends,
// read receipts and conversation summaries, every write paired with its
// outbox event.
type Store struct {
	MessageRepository
	ConversationRepository
}

func NewStore(db DBTX) *Store {
	outbox := NewOutboxRepository(db)
	return &Store{
		MessageRepository:      NewMessageRepository(db, outbox),
		ConversationRepository: NewConversationRepository(db, outbox),
	}
}

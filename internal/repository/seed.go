package repository

import (
	"context"
	"fmt"
	"log"

	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/message"
)

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	PlayerCount     int
	MessagesPerRoom int
}

// DefaultSeedConfig returns default seed configuration
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		PlayerCount:     5,
		MessagesPerRoom: 6,
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Profiles []conversation.Profile
	Rooms    []conversation.Room
	Messages int
}

var seedLines = []string{
	"gg, queue again?",
	"need a support main for ranked",
	"on in 10",
	"that last round was wild",
	"inviting you to the party now",
	"mic check",
}

// Seed creates player profiles and one direct room between the first player
// and each other player, with alternating messages. Every write goes through
// the store so the outbox carries the matching row events.
func Seed(ctx context.Context, db DBTX, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	if cfg.PlayerCount < 2 {
		return nil, fmt.Errorf("seed needs at least 2 players, got %d", cfg.PlayerCount)
	}

	outbox := NewOutboxRepository(db)
	conversations := NewConversationRepository(db, outbox)
	messages := NewMessageRepository(db, outbox)
	result := &SeedResult{}

	log.Println("Starting database seeding...")

	for i := 1; i <= cfg.PlayerCount; i++ {
		p := conversation.Profile{
			UserID:      fmt.Sprintf("player-%d", i),
			DisplayName: fmt.Sprintf("Player %d", i),
		}
		if err := conversations.UpsertProfile(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to seed profile %s: %w", p.UserID, err)
		}
		result.Profiles = append(result.Profiles, p)
	}

	host := result.Profiles[0]
	for _, other := range result.Profiles[1:] {
		room, err := conversations.CreateRoom(ctx, host.DisplayName+" & "+other.DisplayName, host.UserID, other.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to seed room: %w", err)
		}
		result.Rooms = append(result.Rooms, room)

		for n := 0; n < cfg.MessagesPerRoom; n++ {
			sender := host.UserID
			if n%2 == 0 {
				sender = other.UserID
			}
			line := seedLines[n%len(seedLines)]
			if _, err := messages.InsertMessage(ctx, room.ID, sender, line, message.ContentText); err != nil {
				return nil, fmt.Errorf("failed to seed message in room %d: %w", room.ID, err)
			}
			result.Messages++
		}
	}

	log.Println("Database seeding completed successfully!")
	return result, nil
}

// TruncateAll empties every table of the schema.
func TruncateAll(ctx context.Context, db DBTX) error {
	_, err := db.ExecContext(ctx, `TRUNCATE outbox_events, message_reads, messages, room_members, rooms, profiles RESTART IDENTITY CASCADE`)
	return err
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups all messages between two users. Participants are
// stored in canonical order (ParticipantA < ParticipantB) so the unordered
// pair maps to exactly one row.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	ParticipantA uuid.UUID `json:"participant_a"`
	ParticipantB uuid.UUID `json:"participant_b"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CanonicalPair orders two user ids the way conversations are stored.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Interlocutor returns the participant that is not userID.
func (c *Conversation) Interlocutor(userID uuid.UUID) uuid.UUID {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

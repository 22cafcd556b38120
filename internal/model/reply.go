package model

// Visibility controls who can see a reply.
type Visibility int

const (
	// Public replies are visible to everyone in the target conversation.
	Public Visibility = iota
	// Ephemeral replies are posted in a channel but visible only to EphemeralTo.
	Ephemeral
)

// Reply is an outbound message descriptor handed to the transport.
// Target is a channel ID, or a user ID when Direct is set.
type Reply struct {
	Target      string
	Direct      bool
	Text        string
	Attachment  *LeaderboardPayload
	Visibility  Visibility
	EphemeralTo string
	ThreadRef   string
}

// LeaderboardEntry is one ranked line of a leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Score       int64  `json:"score"`
	Color       string `json:"color"`
}

// LeaderboardPayload is the structured attachment of a leaderboard reply.
type LeaderboardPayload struct {
	Title   string             `json:"title"`
	Full    bool               `json:"full"`
	Entries []LeaderboardEntry `json:"entries"`
}

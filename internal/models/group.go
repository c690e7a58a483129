package models

// Member is read-only display data for a group participant.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Group is read-only display data for the chat surface. It is fetched once
// and refreshed independently of the synchronization logic.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}

// MemberName resolves a user id to a display name, falling back to the id
// when the member list does not include the user.
func (g *Group) MemberName(userID string) string {
	if g == nil {
		return userID
	}
	for _, m := range g.Members {
		if m.UserID == userID {
			return m.DisplayName
		}
	}
	return userID
}

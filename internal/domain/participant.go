package domain

// Participant is one entry of the participant directory.
// IsCurrentUser is derived by the directory from the local user id.
type Participant struct {
	ID            UserID  `json:"id"`
	Username      string  `json:"username"`
	FullName      string  `json:"fullName,omitempty"`
	IsMuted       bool    `json:"isMuted"`
	AudioLevel    float64 `json:"audioLevel"`
	IsCreator     bool    `json:"isCreator"`
	IsCurrentUser bool    `json:"isCurrentUser"`
}

func (p *Participant) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

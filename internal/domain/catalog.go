package domain

import "fmt"

// Catalog is a bulk set of challenges, events and users, as read from a seed file.
type Catalog struct {
	Challenges []Challenge `json:"challenges" yaml:"challenges"`
	Events     []Event     `json:"events" yaml:"events"`
	Users      []User      `json:"users" yaml:"users"`
}

// Validate checks every challenge and rejects repeated ids.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Challenges))
	for _, ch := range c.Challenges {
		if err := ch.Validate(); err != nil {
			return err
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("%w: challenge %s listed twice", ErrInvalidChallenge, ch.ID)
		}
		seen[ch.ID] = struct{}{}
	}
	return nil
}

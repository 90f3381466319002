package domain

import (
	"fmt"
	"strings"
)

// Validate enforces catalog invariants: exactly one answer-key form, unique
// sub-question ids and unique trimmed sub-question flags.
func (c Challenge) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidChallenge)
	}
	single := c.Flag != ""
	if single && c.IsMultiQuestion() {
		return fmt.Errorf("%w: %s has both a flag and sub-questions", ErrInvalidChallenge, c.ID)
	}
	if !single && !c.IsMultiQuestion() {
		return fmt.Errorf("%w: %s has no answer key", ErrInvalidChallenge, c.ID)
	}
	if single {
		if strings.TrimSpace(c.Flag) == "" {
			return fmt.Errorf("%w: %s has a blank flag", ErrInvalidChallenge, c.ID)
		}
		if c.BasePoints < 0 {
			return fmt.Errorf("%w: %s has negative points", ErrInvalidChallenge, c.ID)
		}
		return nil
	}

	ids := make(map[string]struct{}, len(c.Questions))
	flags := make(map[string]string, len(c.Questions))
	for _, q := range c.Questions {
		if q.ID == "" {
			return fmt.Errorf("%w: %s has a sub-question without id", ErrInvalidChallenge, c.ID)
		}
		if _, dup := ids[q.ID]; dup {
			return fmt.Errorf("%w: %s repeats sub-question %s", ErrInvalidChallenge, c.ID, q.ID)
		}
		ids[q.ID] = struct{}{}

		flag := strings.TrimSpace(q.Flag)
		if flag == "" {
			return fmt.Errorf("%w: %s/%s has a blank flag", ErrInvalidChallenge, c.ID, q.ID)
		}
		if q.Points < 0 {
			return fmt.Errorf("%w: %s/%s has negative points", ErrInvalidChallenge, c.ID, q.ID)
		}
		if other, dup := flags[flag]; dup {
			return fmt.Errorf("%w: %s sub-questions %s and %s", ErrDuplicateSecret, c.ID, other, q.ID)
		}
		flags[flag] = q.ID
	}
	return nil
}

package repository

import (
	"fmt"
	"strings"

	"pdf-annotator/internal/domain"
)

// classify maps Supabase error text onto the domain sentinels. Neither
// PostgREST nor Storage return typed errors, only messages carrying the
// HTTP status or the upstream reason.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "jwt", "unauthorized", "permission denied", "row-level security"):
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	case containsAny(msg, "404", "not found", "does not exist"):
		return fmt.Errorf("%w: %v", domain.ErrDocumentNotFound, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

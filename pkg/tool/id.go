package tool

import "github.com/google/uuid"

// GenerateUUIDV7 returns a time-ordered UUID string. Transaction ids use v7
// so primary keys stay roughly insertion-ordered.
func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

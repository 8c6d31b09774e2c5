// Package idgen provides short, URL-safe identifiers for pipeline runs and
// queued jobs. Entity and event identities use UUIDs instead.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	RunPrefix = "run_"
	JobPrefix = "job_"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

func RunID() (string, error) { return WithPrefix(RunPrefix) }

func JobID() (string, error) { return WithPrefix(JobPrefix) }

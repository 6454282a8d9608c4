// Package actor resolves the name and email attributed to an operation,
// following a fixed priority chain: an explicit caller-supplied value, then
// environment variables, then the repository's configured default.
package actor

import (
	"os"
	"strings"

	"github.com/forgeline/core/pkg/config"
)

// EnvActorName and EnvActorEmail are checked first, ahead of the
// conventional Git author variables.
const (
	EnvActorName  = "ACTOR_NAME"
	EnvActorEmail = "ACTOR_EMAIL"

	fallbackAuthorNameEnv  = "GIT_AUTHOR_NAME"
	fallbackAuthorEmailEnv = "GIT_AUTHOR_EMAIL"
	userNameEnv            = "USER"
)

// Actor identifies who performed an operation.
type Actor struct {
	Name  string
	Email string
}

// FromEnv resolves an actor purely from environment variables, returning
// false if neither a name nor an email could be found.
func FromEnv() (Actor, bool) {
	name, haveName := firstNonBlankEnv(EnvActorName, fallbackAuthorNameEnv, userNameEnv)
	email, haveEmail := firstNonBlankEnv(EnvActorEmail, fallbackAuthorEmailEnv)
	if !haveName && !haveEmail {
		return Actor{}, false
	}
	return Actor{Name: name, Email: email}, true
}

// Resolve applies the full priority chain: explicit name/email parameters
// override whatever FromEnv or cfg's configured default would otherwise
// produce, field by field, so a caller can override just one of the two.
func Resolve(name, email string, cfg *config.Config) Actor {
	result := defaultActor(cfg)
	if env, ok := FromEnv(); ok {
		if env.Name != "" {
			result.Name = env.Name
		}
		if env.Email != "" {
			result.Email = env.Email
		}
	}
	if name != "" {
		result.Name = name
	}
	if email != "" {
		result.Email = email
	}
	return result
}

func defaultActor(cfg *config.Config) Actor {
	if cfg != nil && (cfg.Actor.DefaultName != "" || cfg.Actor.DefaultEmail != "") {
		return Actor{Name: cfg.Actor.DefaultName, Email: cfg.Actor.DefaultEmail}
	}
	return Actor{Name: "forgeline", Email: "forgeline@example.invalid"}
}

func firstNonBlankEnv(keys ...string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v, true
		}
	}
	return "", false
}

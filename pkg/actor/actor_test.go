package actor

import (
	"testing"

	"github.com/forgeline/core/pkg/config"
)

func TestResolvePrefersExplicitEnvOverDefault(t *testing.T) {
	t.Setenv(EnvActorName, "env-name")
	t.Setenv(EnvActorEmail, "env@example.invalid")

	got := Resolve("", "", config.Default())
	if got.Name != "env-name" || got.Email != "env@example.invalid" {
		t.Fatalf("expected env values to win over the default actor, got %+v", got)
	}
}

func TestResolveParamsOverrideSelectively(t *testing.T) {
	t.Setenv(EnvActorName, "env-name")
	t.Setenv(EnvActorEmail, "env@example.invalid")

	got := Resolve("cli-name", "", config.Default())
	if got.Name != "cli-name" {
		t.Fatalf("expected explicit name param to override env, got %q", got.Name)
	}
	if got.Email != "env@example.invalid" {
		t.Fatalf("expected email left untouched by a name-only override, got %q", got.Email)
	}
}

func TestResolveFallsBackToConfiguredDefault(t *testing.T) {
	for _, k := range []string{EnvActorName, EnvActorEmail, fallbackAuthorNameEnv, fallbackAuthorEmailEnv, userNameEnv} {
		t.Setenv(k, "")
	}
	cfg := config.Default()
	cfg.Actor.DefaultName = "configured-bot"
	cfg.Actor.DefaultEmail = "bot@example.invalid"

	got := Resolve("", "", cfg)
	if got.Name != "configured-bot" || got.Email != "bot@example.invalid" {
		t.Fatalf("expected configured default actor when no env/params present, got %+v", got)
	}
}

package config

import "testing"

func TestResolve_FlagWinsOverEnv(t *testing.T) {
	t.Setenv(envRegistryPath, "/env/registry.json")
	t.Setenv(envConfigFile, "/nonexistent/config.yaml")

	r, err := Resolve(Flags{RegistryPath: "/flag/registry.json"})
	if err != nil {
		t.Fatal(err)
	}
	if r.RegistryPath != "/flag/registry.json" {
		t.Fatalf("expected flag to win, got %s", r.RegistryPath)
	}
}

func TestResolve_EnvWinsOverDefault(t *testing.T) {
	t.Setenv(envShardStore, "/env/shards")
	t.Setenv(envConfigFile, "/nonexistent/config.yaml")

	r, err := Resolve(Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if r.ShardStore != "/env/shards" {
		t.Fatalf("expected env var to win, got %s", r.ShardStore)
	}
}

func TestResolve_FallsBackToCompiledDefault(t *testing.T) {
	t.Setenv(envConfigFile, "/nonexistent/config.yaml")

	r, err := Resolve(Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if r.RegistryPath != DefaultRegistryPath {
		t.Fatalf("expected compiled-in default, got %s", r.RegistryPath)
	}
}

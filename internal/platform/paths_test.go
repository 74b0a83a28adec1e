package platform

import (
	"path/filepath"
	"testing"
)

func TestPathsFor(t *testing.T) {
	cases := []struct {
		name       string
		base       BaseDirs
		wantConfig string
		wantDB     string
	}{
		{
			name: "linux xdg",
			base: BaseDirs{GOOS: "linux", ConfigDir: "/fallback/config", DataDir: "/fallback/data", Env: map[string]string{
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			}},
			wantConfig: filepath.Join("/xdg/config", "encore", "config.toml"),
			wantDB:     filepath.Join("/xdg/data", "encore", "encore.db"),
		},
		{
			name:       "linux without xdg",
			base:       BaseDirs{GOOS: "linux", ConfigDir: "/home/me/.config", DataDir: "/home/me/.local/share"},
			wantConfig: filepath.Join("/home/me/.config", "encore", "config.toml"),
			wantDB:     filepath.Join("/home/me/.local/share", "encore", "encore.db"),
		},
		{
			name: "windows appdata",
			base: BaseDirs{GOOS: "windows", ConfigDir: `C:\fallback\config`, DataDir: `C:\fallback\data`, Env: map[string]string{
				"APPDATA":      `C:\Users\me\AppData\Roaming`,
				"LOCALAPPDATA": `C:\Users\me\AppData\Local`,
			}},
			wantConfig: filepath.Join(`C:\Users\me\AppData\Roaming`, "encore", "config.toml"),
			wantDB:     filepath.Join(`C:\Users\me\AppData\Local`, "encore", "encore.db"),
		},
		{
			name: "darwin ignores xdg",
			base: BaseDirs{GOOS: "darwin", ConfigDir: "/Users/me/Library/Application Support", DataDir: "/Users/me/Library/Application Support", Env: map[string]string{
				"XDG_CONFIG_HOME": "/ignored",
			}},
			wantConfig: filepath.Join("/Users/me/Library/Application Support", "encore", "config.toml"),
			wantDB:     filepath.Join("/Users/me/Library/Application Support", "encore", "encore.db"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := PathsFor(tc.base, "encore")
			if err != nil {
				t.Fatalf("PathsFor() error = %v", err)
			}
			if p.ConfigPath != tc.wantConfig {
				t.Fatalf("unexpected config path %q", p.ConfigPath)
			}
			if p.DBPath != tc.wantDB {
				t.Fatalf("unexpected db path %q", p.DBPath)
			}
			if p.DataDir != filepath.Dir(tc.wantDB) {
				t.Fatalf("unexpected data dir %q", p.DataDir)
			}
		})
	}
}

func TestPathsForRejectsEmptyInput(t *testing.T) {
	if _, err := PathsFor(BaseDirs{GOOS: "darwin", DataDir: "/tmp/data"}, "encore"); err == nil {
		t.Fatal("expected error for empty dirs")
	}
	if _, err := PathsFor(BaseDirs{GOOS: "linux", ConfigDir: "/c", DataDir: "/d"}, "  "); err == nil {
		t.Fatal("expected error for empty app name")
	}
}

func TestResolveDevModeSuffix(t *testing.T) {
	p, err := Resolve(Options{AppName: "encore", DevMode: true, Getenv: func(string) string { return "" }})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.AppName != "encore-dev" {
		t.Fatalf("unexpected app name %q", p.AppName)
	}
	if filepath.Base(filepath.Dir(p.ConfigPath)) != "encore-dev" {
		t.Fatalf("expected dev config dir suffix, got %q", p.ConfigPath)
	}
	if filepath.Base(p.DBPath) != "encore-dev.db" {
		t.Fatalf("expected dev db name, got %q", p.DBPath)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "queue.db")
	env := map[string]string{
		EnvConfigPath: "/etc/encore/config.toml",
		EnvDBPath:     dbPath,
	}
	p, err := Resolve(Options{Getenv: func(key string) string { return env[key] }})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.ConfigPath != "/etc/encore/config.toml" {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != dbPath || p.DataDir != filepath.Dir(dbPath) {
		t.Fatalf("unexpected db paths %#v", p)
	}
	if p.AppName != DefaultAppName {
		t.Fatalf("unexpected app name %q", p.AppName)
	}
}

func TestDefaultPathsSmoke(t *testing.T) {
	p, err := DefaultPaths()
	if err != nil {
		t.Fatalf("DefaultPaths() error = %v", err)
	}
	if p.ConfigPath == "" || p.DBPath == "" || p.DataDir == "" {
		t.Fatalf("expected non-empty paths, got %#v", p)
	}
}

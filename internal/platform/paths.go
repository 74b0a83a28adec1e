package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultAppName names the config and data directories.
const DefaultAppName = "encore"

// Environment overrides honored by Resolve.
const (
	EnvConfigPath = "ENCORE_CONFIG"
	EnvDBPath     = "ENCORE_DB_PATH"
	EnvAppName    = "ENCORE_APP_NAME"
	EnvDevMode    = "ENCORE_DEV_MODE"
)

// Paths locates the config file, the data directory, and the sqlite database.
type Paths struct {
	AppName    string
	ConfigPath string
	DataDir    string
	DBPath     string
}

// Options selects the app name and dev-mode suffix.
type Options struct {
	AppName string
	DevMode bool
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// BaseDirs are the per-user roots paths are derived from.
type BaseDirs struct {
	GOOS      string
	ConfigDir string
	DataDir   string
	Env       map[string]string
}

// DefaultPaths returns paths for the default app name.
func DefaultPaths() (Paths, error) {
	return Resolve(Options{AppName: DefaultAppName})
}

// Resolve computes OS default paths for opts and then applies ENCORE_CONFIG and ENCORE_DB_PATH.
func Resolve(opts Options) (Paths, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = DefaultAppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	base, err := userBaseDirs(getenv)
	if err != nil {
		return Paths{}, err
	}
	paths, err := PathsFor(base, appName)
	if err != nil {
		return Paths{}, err
	}
	if v := strings.TrimSpace(getenv(EnvConfigPath)); v != "" {
		paths.ConfigPath = v
	}
	if v := strings.TrimSpace(getenv(EnvDBPath)); v != "" {
		paths.DBPath = v
		paths.DataDir = filepath.Dir(v)
	}
	return paths, nil
}

func userBaseDirs(getenv func(string) string) (BaseDirs, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return BaseDirs{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir := configDir
	if runtime.GOOS == "linux" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return BaseDirs{}, fmt.Errorf("user home dir: %w", homeErr)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}

	env := map[string]string{}
	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "APPDATA", "LOCALAPPDATA"} {
		env[key] = getenv(key)
	}
	return BaseDirs{GOOS: runtime.GOOS, ConfigDir: configDir, DataDir: dataDir, Env: env}, nil
}

// PathsFor derives app paths from base. XDG variables apply on linux and APPDATA/LOCALAPPDATA on windows.
func PathsFor(base BaseDirs, appName string) (Paths, error) {
	if base.ConfigDir == "" || base.DataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}

	configBase := base.ConfigDir
	dataBase := base.DataDir
	switch base.GOOS {
	case "linux":
		if v := base.Env["XDG_CONFIG_HOME"]; v != "" {
			configBase = v
		}
		if v := base.Env["XDG_DATA_HOME"]; v != "" {
			dataBase = v
		}
	case "windows":
		if v := base.Env["APPDATA"]; v != "" {
			configBase = v
		}
		if v := base.Env["LOCALAPPDATA"]; v != "" {
			dataBase = v
		}
	}

	dataDir := filepath.Join(dataBase, appName)
	return Paths{
		AppName:    appName,
		ConfigPath: filepath.Join(configBase, appName, "config.toml"),
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, appName+".db"),
	}, nil
}

package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/docker/agentcall/pkg/paths"
)

type KeyValuePair struct {
	Key   string
	Value string
}

func expandEnv(value string, env []string) string {
	return os.Expand(value, func(name string) string {
		for _, e := range env {
			if after, ok := strings.CutPrefix(e, name+"="); ok {
				return after
			}
		}
		return ""
	})
}

// commandEnv builds the environment of a stdio server: dotenv files first,
// then the inline entries, which may reference anything before them.
func commandEnv(parentDir string, envFiles, inline []string) ([]string, error) {
	pairs, err := readEnvFiles(parentDir, envFiles)
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(pairs)+len(inline))
	for _, kv := range pairs {
		env = append(env, kv.Key+"="+kv.Value)
	}

	lookup := slices.Concat(env, os.Environ())
	for _, e := range inline {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env entry: %s", e)
		}
		expanded := k + "=" + expandEnv(v, lookup)
		env = append(env, expanded)
		lookup = append([]string{expanded}, lookup...)
	}
	return env, nil
}

func readEnvFiles(parentDir string, files []string) ([]KeyValuePair, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var allLines []KeyValuePair

	for _, file := range files {
		lines, err := readEnvFile(parentDir, file)
		if err != nil {
			return nil, err
		}
		allLines = append(allLines, lines...)
	}

	return allLines, nil
}

func readEnvFile(parentDir, path string) ([]KeyValuePair, error) {
	path, err := expandTildePath(path)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(parentDir, path)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []KeyValuePair

	for line := range strings.SplitSeq(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env file line: %s", line)
		}

		if strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			v = strings.TrimSuffix(strings.TrimPrefix(v, `"`), `"`)
		}

		lines = append(lines, KeyValuePair{
			Key:   k,
			Value: v,
		})
	}

	return lines, nil
}

// expandTildePath expands ~ in file paths to the user's home directory
func expandTildePath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}

	homeDir := paths.GetHomeDir()
	if homeDir == "" {
		return "", fmt.Errorf("failed to get user home directory")
	}

	if p == "~" {
		return homeDir, nil
	}

	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir, p[2:]), nil
	}

	return "", fmt.Errorf("unsupported tilde expansion format: %s", p)
}

// resolvePath makes p absolute against parentDir, expanding a leading ~.
func resolvePath(parentDir, p string) (string, error) {
	p, err := expandTildePath(p)
	if err != nil {
		return "", err
	}
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	return filepath.Join(parentDir, p), nil
}

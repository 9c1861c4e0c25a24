package root

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"

	"github.com/docker/agentcall/pkg/config"
	"github.com/docker/agentcall/pkg/loader"
)

// loadConfig reads the config at ref, which is either a local path or a
// URL, and returns it with the directory its relative paths resolve against.
func loadConfig(ctx context.Context, ref string) (*config.Config, string, error) {
	source := config.Resolve(ref)
	cfg, err := config.Load(ctx, source)
	if err != nil {
		return nil, "", err
	}
	return cfg, source.ParentDir(), nil
}

func loadAll(ctx context.Context, ref string) (*loader.Loaded, error) {
	cfg, parentDir, err := loadConfig(ctx, ref)
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx, cfg, parentDir)
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// writeOutput replaces the file at path atomically, or writes to stdout when
// path is empty.
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Package local delivers certificate material to the machine quick runs on.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	qerrors "github.com/systmms/quickmanage/internal/errors"
	"github.com/systmms/quickmanage/internal/fileaccess"
	"github.com/systmms/quickmanage/internal/hosts"
	"github.com/systmms/quickmanage/internal/logging"
	"github.com/systmms/quickmanage/pkg/builder"
	"github.com/systmms/quickmanage/pkg/exec"
)

// Type is the discriminator local clients register under
const Type = "local"

// Config configures a local client
type Config struct {
	// Mode is the octal permission set on written files, 0600 by default
	Mode string `mapstructure:"mode" validate:"omitempty,numeric,len=4"`
	// DirMode is used for parent directories that have to be created
	DirMode string `mapstructure:"dir_mode" validate:"omitempty,numeric,len=4"`
}

// Client writes files through a fileaccess.FS and runs actions with sh
type Client struct {
	name     string
	files    fileaccess.FS
	executor exec.CommandExecutor
	mode     fs.FileMode
	dirMode  fs.FileMode
	logger   *logging.Logger
}

func parseMode(field, value string, fallback fs.FileMode) (fs.FileMode, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, qerrors.ValidationError{Field: "config." + field, Value: value, Message: "must be an octal mode such as 0600"}
	}
	return fs.FileMode(parsed), nil
}

// New returns a constructor for local clients that run actions with executor
func New(executor exec.CommandExecutor) builder.Constructor[Config, hosts.Client] {
	if executor == nil {
		executor = exec.DefaultExecutor()
	}
	return func(ctx context.Context, name string, cfg Config, deps builder.Deps) (hosts.Client, error) {
		mode, err := parseMode("mode", cfg.Mode, 0600)
		if err != nil {
			return nil, err
		}
		dirMode, err := parseMode("dir_mode", cfg.DirMode, 0755)
		if err != nil {
			return nil, err
		}
		files := deps.Files
		if files == nil {
			files = fileaccess.NewLocal()
		}
		return &Client{
			name:     name,
			files:    files,
			executor: executor,
			mode:     mode,
			dirMode:  dirMode,
			logger:   deps.Log(),
		}, nil
	}
}

// Register adds the local client type to r
func Register(r *builder.Registry[hosts.Client], executor exec.CommandExecutor) {
	builder.Register(r, Type, New(executor))
}

func (c *Client) PutData(ctx context.Context, destination string, data []byte) error {
	if err := c.files.MakeDirs(ctx, filepath.Dir(destination), c.dirMode); err != nil {
		return fmt.Errorf("failed to create folder for %s: %w", destination, err)
	}
	if err := fileaccess.WriteFile(ctx, c.files, destination, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", destination, err)
	}
	if err := c.files.SetPermissions(ctx, destination, c.mode); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", destination, err)
	}
	c.logger.Debug("Wrote %d bytes to %s", len(data), destination)
	return nil
}

func (c *Client) Action(ctx context.Context, command string) error {
	c.logger.Debug("Running '%s' locally", command)
	output, err := exec.Shell(ctx, c.executor, command)
	if err != nil {
		return err
	}
	if len(output) > 0 {
		c.logger.Debug("%s", output)
	}
	return nil
}

func (c *Client) Close() error {
	return nil
}

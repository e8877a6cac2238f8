package nginx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rboyer/safeio"
)

// DefaultReloadTimeout bounds how long the reload command may run
const DefaultReloadTimeout = 30 * time.Second

/*
ConfFile is the generated nginx configuration file
*/
type ConfFile struct {
	Path string
}

/*
Read returns the current configuration as text, a missing file reads as empty
*/
func (f *ConfFile) Read() (string, error) {
	content, err := os.ReadFile(f.Path)

	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return string(content), nil
}

/*
Write replaces the configuration with the provided text. The file is swapped in atomically so nginx never reads a
partial configuration.
*/
func (f *ConfFile) Write(conf string) error {
	w, err := safeio.OpenFile(f.Path, 0644)

	if err != nil {
		return err
	}

	defer w.Close()

	if _, err := w.Write([]byte(conf)); err != nil {
		return err
	}

	return w.Commit()
}

/*
ShellReloader reloads nginx by running a shell command
*/
type ShellReloader struct {
	Command string
	Timeout time.Duration
}

/*
Reload runs the reload command, the error includes the command output
*/
func (r *ShellReloader) Reload(ctx context.Context) error {
	timeout := r.Timeout

	if timeout <= 0 {
		timeout = DefaultReloadTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", r.Command).CombinedOutput()

	if err != nil {
		return fmt.Errorf("Failed to execute (%v): %v, err: %w", r.Command, strings.TrimSpace(string(out)), err)
	}

	return nil
}

// internal/reporting/follow.go
package reporting

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
)

// TracePath resolves a run directory or a trace file to the step trace path.
func TracePath(target string) (string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(target, TraceLinesFile), nil
	}
	return target, nil
}

// ReadSteps replays a finished step trace. Lines that do not decode are
// reported through onBadLine and skipped.
func ReadSteps(path string, onStep func(agent.Step), onBadLine func(line string, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		decodeStep(scanner.Text(), onStep, onBadLine)
	}
	return scanner.Err()
}

// FollowSteps streams steps from a trace that is still being written, like
// tail -f, until ctx is done. The file need not exist yet. Polling keeps it
// working on network mounted artifact directories.
func FollowSteps(ctx context.Context, path string, logger *zap.Logger, onStep func(agent.Step), onBadLine func(line string, err error)) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow trace %s: %w", path, err)
	}
	// Poll mode registers no inotify watches, so there is nothing to Cleanup.
	defer func() { _ = t.Stop() }()

	logger.Debug("Following step trace.", zap.String("path", path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				if err := t.Err(); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				return nil
			}
			if line.Err != nil {
				logger.Warn("Error reading step trace.", zap.Error(line.Err))
				continue
			}
			decodeStep(line.Text, onStep, onBadLine)
		}
	}
}

func decodeStep(text string, onStep func(agent.Step), onBadLine func(string, error)) {
	if text == "" {
		return
	}
	var step agent.Step
	if err := json.UnmarshalFromString(text, &step); err != nil {
		if onBadLine != nil {
			onBadLine(text, err)
		}
		return
	}
	onStep(step)
}

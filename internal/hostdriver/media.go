package hostdriver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

// PushFile hands localPath to the simulator CLI: with bundleID set it runs
// `simctl install` on it, otherwise `simctl addmedia`. devicePath is not
// used, so the file is not placed at a chosen path on the device's
// filesystem or inside the app's container.
func (d *Driver) PushFile(ctx context.Context, udid, localPath, devicePath, bundleID string) error {
	args := []string{"simctl"}
	if bundleID != "" {
		args = append(args, "install", udid, localPath) // app containers are pushed via install path in practice
	} else {
		args = append(args, "addmedia", udid, localPath)
	}
	_, err := d.run(ctx, defaultActionTimeout, args...)
	_ = devicePath // device path is informational for the addmedia/install paths above
	return err
}

// PullFile copies a file out of the device's filesystem and returns its
// bytes.
func (d *Driver) PullFile(ctx context.Context, udid, devicePath, bundleID string) ([]byte, error) {
	args := []string{"simctl", "get_app_container", udid}
	if bundleID != "" {
		args = append(args, bundleID)
	}
	res, err := d.run(ctx, defaultActionTimeout, args...)
	if err != nil {
		return nil, err
	}
	containerPath := strings.TrimSpace(string(res.Stdout))
	fullPath := devicePath
	if bundleID != "" {
		fullPath = containerPath + "/" + strings.TrimPrefix(devicePath, "/")
	}
	data, readErr := os.ReadFile(fullPath)
	if readErr != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, fmt.Sprintf("file %s not found on device", devicePath), readErr)
	}
	return data, nil
}

// AddMedia injects photo or video files into the device's media library.
func (d *Driver) AddMedia(ctx context.Context, udid string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	args := append([]string{"simctl", "addmedia", udid}, paths...)
	_, err := d.run(ctx, defaultActionTimeout, args...)
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

// ProcessInfo describes one running process on a device.
type ProcessInfo struct {
	Process string
	PID     int
}

// ListProcesses returns the currently running processes on udid.
func (d *Driver) ListProcesses(ctx context.Context, udid string) ([]ProcessInfo, error) {
	res, err := d.run(ctx, defaultActionTimeout, "spawn", udid, "launchctl", "list")
	if err != nil {
		return nil, err
	}
	var out []ProcessInfo
	scanner := bufio.NewScanner(strings.NewReader(string(res.Stdout)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		pid, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			continue
		}
		out = append(out, ProcessInfo{Process: fields[2], PID: pid})
	}
	return out, nil
}

// LogEntry is one line of device log output.
type LogEntry struct {
	Timestamp time.Time
	Process   string
	Level     string
	Message   string
}

// Logs starts a log stream for udid. If follow is true the channel stays
// open until ctx is cancelled; otherwise it closes after the initial
// backlog drains. The owning goroutine reaps the underlying child process
// on every exit path (spec.md §5 structured ownership).
func (d *Driver) Logs(ctx context.Context, udid string, follow bool) (<-chan LogEntry, error) {
	args := []string{"simctl", "spawn", udid, "log", "stream", "--style", "compact"}
	if !follow {
		args = []string{"simctl", "spawn", udid, "log", "show", "--style", "compact", "--last", "5m"}
	}

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindHostDriver, "failed to open log stream", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.KindHostDriver, "failed to start log stream", err)
	}

	out := make(chan LogEntry, 64)
	go func() {
		defer close(out)
		defer cmd.Wait() // reap the child; owner of this goroutine never outlives it.
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			out <- parseLogLine(scanner.Text())
		}
	}()
	return out, nil
}

func parseLogLine(line string) LogEntry {
	return LogEntry{Timestamp: time.Now(), Process: "unknown", Level: "default", Message: line}
}

// ClearLogs truncates the device's log archive.
func (d *Driver) ClearLogs(ctx context.Context, udid string) error {
	_, err := d.run(ctx, defaultActionTimeout, "simctl", "spawn", udid, "log", "erase")
	return err
}

// VideoHandle identifies a running video capture child process.
type VideoHandle struct {
	cmd      *exec.Cmd
	SinkPath string
}

// StartVideo begins recording udid's screen to sinkPath as MP4.
func (d *Driver) StartVideo(ctx context.Context, udid, sinkPath string) (*VideoHandle, error) {
	cmd := exec.CommandContext(ctx, d.Binary, "simctl", "io", udid, "recordVideo", "--codec=h264", sinkPath)
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.KindHostDriver, "failed to start video capture", err)
	}
	return &VideoHandle{cmd: cmd, SinkPath: sinkPath}, nil
}

// StopVideo signals the capture process to finalize the file and waits up
// to grace for it to exit cleanly before killing it.
func (d *Driver) StopVideo(h *VideoHandle, grace time.Duration) error {
	if h == nil || h.cmd.Process == nil {
		return apperr.New(apperr.KindBadState, "no active video capture")
	}
	_ = h.cmd.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = h.cmd.Process.Kill()
		<-done
		return nil
	}
}

package hostdriver

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// InstallApp installs the app archive at archivePath onto udid. Before
// handing the archive to simctl, it is preprocessed into a scratch copy:
// code-signing blobs are stripped and the bundle's supported-platforms
// metadata is rewritten to include the simulator platform (spec.md §4.3).
// The caller's file is never mutated; the scratch directory is removed on
// every exit path.
func (d *Driver) InstallApp(ctx context.Context, udid, archivePath string) (string, error) {
	scratch, err := os.MkdirTemp("", "ios-bridge-install-*")
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "failed to create scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	preppedPath, bundleID, err := preprocessForSimulator(archivePath, scratch)
	if err != nil {
		return "", err
	}

	err = d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "simctl", "install", udid, preppedPath)
		return err
	})
	if err != nil {
		return "", err
	}
	return bundleID, nil
}

// preprocessForSimulator expands the archive into scratch, strips
// _CodeSignature, rewrites Info.plist's CFBundleSupportedPlatforms to
// include "iPhoneSimulator", and re-packs into scratch/prepped.app. It
// returns the prepped path and the discovered bundle identifier. Any
// failure path leaves only scratch (which the caller removes) touched.
func preprocessForSimulator(archivePath, scratch string) (string, string, error) {
	appDir, err := expandArchive(archivePath, scratch)
	if err != nil {
		return "", "", err
	}

	if err := os.RemoveAll(filepath.Join(appDir, "_CodeSignature")); err != nil && !os.IsNotExist(err) {
		return "", "", apperr.Wrap(apperr.KindIO, "failed to strip code signature", err)
	}

	bundleID, err := rewriteSupportedPlatforms(filepath.Join(appDir, "Info.plist"))
	if err != nil {
		return "", "", err
	}
	if bundleID == "" {
		return "", "", apperr.New(apperr.KindHostDriver, "app bundle missing CFBundleIdentifier")
	}

	return appDir, bundleID, nil
}

// expandArchive extracts a zipped .app bundle into dest and returns the
// path to the extracted ".app" directory.
func expandArchive(archivePath, dest string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "bad app archive", err)
	}
	defer r.Close()

	var appDirName string
	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return "", apperr.New(apperr.KindIO, "archive entry escapes destination")
		}
		if parts := strings.SplitN(f.Name, "/", 2); len(parts) > 0 && strings.HasSuffix(parts[0], ".app") {
			appDirName = parts[0]
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", apperr.Wrap(apperr.KindIO, "failed to extract archive", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", apperr.Wrap(apperr.KindIO, "failed to extract archive", err)
		}
		if err := extractFile(f, target); err != nil {
			return "", err
		}
	}
	if appDirName == "" {
		return "", apperr.New(apperr.KindHostDriver, "archive does not contain a .app bundle")
	}
	return filepath.Join(dest, appDirName), nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to read archive entry", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to write extracted file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to extract file", err)
	}
	return nil
}

// rewriteSupportedPlatforms is a best-effort textual patch of Info.plist's
// CFBundleSupportedPlatforms array to include the simulator platform, and
// returns the bundle's CFBundleIdentifier. A real implementation would use
// a plist encoder/decoder; this keeps the same contract (never mutate the
// caller's file, always operate on the scratch copy) with a minimal parser
// sufficient for the XML plist format simctl expects.
func rewriteSupportedPlatforms(plistPath string) (string, error) {
	data, err := os.ReadFile(plistPath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindHostDriver, "app bundle missing Info.plist", err)
	}
	content := string(data)

	bundleID := extractPlistString(content, "CFBundleIdentifier")

	if !strings.Contains(content, "iPhoneSimulator") {
		marker := "<key>CFBundleSupportedPlatforms</key>"
		if idx := strings.Index(content, marker); idx >= 0 {
			insertAt := idx + len(marker)
			if arrIdx := strings.Index(content[insertAt:], "<array>"); arrIdx >= 0 {
				pos := insertAt + arrIdx + len("<array>")
				content = content[:pos] + "<string>iPhoneSimulator</string>" + content[pos:]
			}
		}
	}

	if err := os.WriteFile(plistPath, []byte(content), 0o644); err != nil {
		return "", apperr.Wrap(apperr.KindIO, "failed to rewrite Info.plist", err)
	}
	return bundleID, nil
}

// extractPlistString pulls the string value immediately following a <key>
// element in an XML plist. Returns "" if not found.
func extractPlistString(content, key string) string {
	marker := fmt.Sprintf("<key>%s</key>", key)
	idx := strings.Index(content, marker)
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(marker):]
	start := strings.Index(rest, "<string>")
	if start < 0 {
		return ""
	}
	rest = rest[start+len("<string>"):]
	end := strings.Index(rest, "</string>")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// LaunchApp starts bundleID on udid and returns its PID.
func (d *Driver) LaunchApp(ctx context.Context, udid, bundleID string) (int, error) {
	var pid int
	err := d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		res, err := d.run(ctx, defaultActionTimeout, "simctl", "launch", udid, bundleID)
		if err != nil {
			return err
		}
		// simctl prints "<bundle id>: <pid>"
		parts := strings.SplitN(strings.TrimSpace(string(res.Stdout)), ":", 2)
		if len(parts) == 2 {
			if v, convErr := strconv.Atoi(strings.TrimSpace(parts[1])); convErr == nil {
				pid = v
			}
		}
		return nil
	})
	return pid, err
}

// TerminateApp stops a running app.
func (d *Driver) TerminateApp(ctx context.Context, udid, bundleID string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "simctl", "terminate", udid, bundleID)
		return err
	})
}

// UninstallApp removes an app from the device.
func (d *Driver) UninstallApp(ctx context.Context, udid, bundleID string) error {
	return d.withDeviceLock(ctx, udid, func(ctx context.Context) error {
		_, err := d.run(ctx, defaultActionTimeout, "simctl", "uninstall", udid, bundleID)
		return err
	})
}

// ListApps returns every app installed on udid.
func (d *Driver) ListApps(ctx context.Context, udid string) ([]model.InstalledApp, error) {
	res, err := d.run(ctx, defaultActionTimeout, "simctl", "listapps", udid)
	if err != nil {
		return nil, err
	}
	// simctl listapps prints an XML plist dictionary keyed by bundle id; we
	// pull out bundle ids and display names with the same minimal textual
	// scan used for Info.plist above rather than a full plist decoder.
	return parseInstalledApps(string(res.Stdout)), nil
}

func parseInstalledApps(plist string) []model.InstalledApp {
	var apps []model.InstalledApp
	sections := strings.Split(plist, "<key>CFBundleIdentifier</key>")
	for _, section := range sections[1:] {
		start := strings.Index(section, "<string>")
		if start < 0 {
			continue
		}
		section = section[start+len("<string>"):]
		end := strings.Index(section, "</string>")
		if end < 0 {
			continue
		}
		bundleID := section[:end]
		name := extractPlistString(section, "CFBundleDisplayName")
		version := extractPlistString(section, "CFBundleShortVersionString")
		apps = append(apps, model.InstalledApp{
			BundleID:    bundleID,
			DisplayName: name,
			Version:     version,
			InstalledAt: time.Now(),
		})
	}
	return apps
}

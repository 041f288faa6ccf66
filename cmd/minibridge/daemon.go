package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Install or remove the background service",
}

var daemonInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install minibridge as a user service (launchd or systemd)",
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		switch runtime.GOOS {
		case "darwin":
			return installLaunchd(exe)
		case "linux":
			return installSystemd(exe)
		default:
			return fmt.Errorf("daemon install not supported on %s", runtime.GOOS)
		}
	},
}

var daemonUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch runtime.GOOS {
		case "darwin":
			return uninstallLaunchd()
		case "linux":
			return uninstallSystemd()
		default:
			return fmt.Errorf("daemon uninstall not supported on %s", runtime.GOOS)
		}
	},
}

func init() {
	daemonCmd.AddCommand(daemonInstallCmd)
	daemonCmd.AddCommand(daemonUninstallCmd)
}

const launchdLabel = "com.minibridge.gateway"

func launchdPlistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func installLaunchd(exe string) error {
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>gateway</string>
		<string>--config</string>
		<string>%s</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`, launchdLabel, exe, configPath)

	path := launchdPlistPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil {
		return err
	}
	if out, err := exec.Command("launchctl", "load", path).CombinedOutput(); err != nil {
		return fmt.Errorf("launchctl load: %s: %w", string(out), err)
	}
	fmt.Printf("Installed launchd service %s\n", launchdLabel)
	return nil
}

func uninstallLaunchd() error {
	path := launchdPlistPath()
	if out, err := exec.Command("launchctl", "unload", path).CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "launchctl unload: %s\n", string(out))
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Printf("Removed launchd service %s\n", launchdLabel)
	return nil
}

func systemdUnitPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", "minibridge.service")
}

func installSystemd(exe string) error {
	unit := fmt.Sprintf(`[Unit]
Description=MiniBridge chat relay gateway
After=network-online.target

[Service]
ExecStart=%s gateway --config %s
Restart=always
RestartSec=5

[Install]
WantedBy=default.target
`, exe, configPath)

	path := systemdUnitPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return err
	}
	for _, cmdArgs := range [][]string{
		{"systemctl", "--user", "daemon-reload"},
		{"systemctl", "--user", "enable", "--now", "minibridge.service"},
	} {
		if out, err := exec.Command(cmdArgs[0], cmdArgs[1:]...).CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %s: %w", cmdArgs[0], string(out), err)
		}
	}
	fmt.Println("Installed systemd user service minibridge.service")
	return nil
}

func uninstallSystemd() error {
	if out, err := exec.Command("systemctl", "--user", "disable", "--now", "minibridge.service").CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "systemctl disable: %s\n", string(out))
	}
	if err := os.Remove(systemdUnitPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if out, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "systemctl daemon-reload: %s\n", string(out))
	}
	fmt.Println("Removed systemd user service minibridge.service")
	return nil
}

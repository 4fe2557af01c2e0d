// Package notifier provides desktop notifications for operation runs
package notifier

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

// OperationNotifier handles operation notifications
type OperationNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// New creates a new operation notifier
func New(config Config, log logger.Logger) *OperationNotifier {
	return &OperationNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// FromManifest creates a notifier from the manifest notification section
func FromManifest(manifest *types.Manifest, log logger.Logger) *OperationNotifier {
	cfg := Config{}
	if manifest != nil && manifest.Notifications != nil {
		if manifest.Notifications.Enabled != nil {
			cfg.Enabled = *manifest.Notifications.Enabled
		}
		cfg.SuccessSound = manifest.Notifications.SuccessSound
		cfg.FailureSound = manifest.Notifications.FailureSound
	}
	return New(cfg, log)
}

// NotifyOperationStart notifies that an operation has started
func (n *OperationNotifier) NotifyOperationStart(operation types.Operation) {
	if !n.enabled {
		return
	}

	title := "📦 Slipway"
	message := fmt.Sprintf("Running %s...", operationLabel(operation))

	n.sendNotification(title, message, "")
}

// NotifyOperationSuccess notifies that an operation succeeded
func (n *OperationNotifier) NotifyOperationSuccess(operation types.Operation, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := fmt.Sprintf("✅ %s Succeeded", operationLabel(operation))
	message := fmt.Sprintf("Finished in %s", formatDuration(duration))

	n.sendNotification(title, message, n.successSound)
}

// NotifyOperationFailure notifies that an operation failed
func (n *OperationNotifier) NotifyOperationFailure(operation types.Operation, err error) {
	if !n.enabled {
		return
	}

	title := fmt.Sprintf("❌ %s Failed", operationLabel(operation))
	message := fmt.Sprintf("%v", err)

	n.sendNotification(title, message, n.failureSound)
}

// Private methods

func (n *OperationNotifier) sendNotification(title, message, soundName string) {
	// Platform-specific notification
	switch runtime.GOOS {
	case "darwin":
		n.sendMacNotification(title, message, soundName)
	case "linux":
		n.sendLinuxNotification(title, message)
	case "windows":
		n.sendWindowsNotification(title, message)
	default:
		// Fallback to console
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func (n *OperationNotifier) sendMacNotification(title, message, soundName string) {
	// Use beeep for cross-platform notifications
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}

	// Play sound if specified
	if soundName != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func (n *OperationNotifier) sendLinuxNotification(title, message string) {
	// Use notify-send on Linux
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}

func (n *OperationNotifier) sendWindowsNotification(title, message string) {
	// Use Windows toast notifications
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}
}

func operationLabel(operation types.Operation) string {
	switch operation {
	case types.OperationInstall:
		return "Install"
	case types.OperationCleanBuild:
		return "Clean Build"
	case types.OperationBuild:
		return "Build"
	case types.OperationTest:
		return "Tests"
	case types.OperationCoverage:
		return "Coverage"
	case types.OperationBumpVersion:
		return "Version Bump"
	case types.OperationCheck:
		return "Checks"
	case types.OperationRelease:
		return "Release"
	default:
		return string(operation)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

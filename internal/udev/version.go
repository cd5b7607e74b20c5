package udev

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// Version runs udevadm --version and returns the udev release number.
func Version(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "udevadm", "--version").Output()
	if err != nil {
		klog.Errorf("failed to run udevadm: %v", err)
		return 0, fmt.Errorf("udev: udevadm --version: %w", err)
	}
	text := strings.TrimSpace(string(out))
	// some distributions append a package suffix, e.g. "252 (252.22-1~deb12u1)"
	if fields := strings.Fields(text); len(fields) > 0 {
		text = fields[0]
	}
	version, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: udevadm version %q: %w", ErrDecode, strings.TrimSpace(string(out)), err)
	}
	return version, nil
}

// Package recovery detects frozen sensor firmware and drives the hardware
// reset procedure that unwedges it.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Resetter power-cycles the sensor's USB port and waits for the device node
// to come back. Implementations must degrade to an error when the platform
// cannot perform the reset; they must never panic.
type Resetter interface {
	CutPower(ctx context.Context, d time.Duration) error
	RestorePower(ctx context.Context) error
	WaitForDevice(ctx context.Context, timeout time.Duration) error
}

// USBResetter resets the sensor by unbinding and rebinding the xHCI PCI
// controller through sysfs. uhubctl cannot cut VBUS on hubs without
// per-port power switching (the Pi 4's VIA Labs hub among them), so the
// cycle happens at the PCI level and takes every USB port down with it.
type USBResetter struct {
	DriverDir  string // xhci_hcd PCI driver directory
	RescanPath string // PCI bus rescan trigger
	NewIDPath  string // ftdi_sio dynamic id registration
	DeviceGlob string // serial device nodes to wait for
	USBIDs     string // vendor/product pair for NewIDPath

	logger  *slog.Logger
	pciAddr string
}

func NewUSBResetter(logger *slog.Logger) *USBResetter {
	return &USBResetter{
		DriverDir:  "/sys/bus/pci/drivers/xhci_hcd",
		RescanPath: "/sys/bus/pci/rescan",
		NewIDPath:  "/sys/bus/usb-serial/drivers/ftdi_sio/new_id",
		DeviceGlob: "/dev/ttyUSB*",
		USBIDs:     "0590 00d4",
		logger:     logger,
	}
}

// CutPower unbinds the xHCI controller, killing all USB devices, and holds
// power off for d.
func (u *USBResetter) CutPower(ctx context.Context, d time.Duration) error {
	addr, err := u.findController()
	if err != nil {
		return err
	}
	u.pciAddr = addr
	u.logger.Warn("cutting usb power via pci unbind", "pci_addr", addr)
	if err := writeSysfs(filepath.Join(u.DriverDir, "unbind"), addr); err != nil {
		return fmt.Errorf("unbind xhci controller: %w", err)
	}
	return sleep(ctx, d)
}

// RestorePower rescans the PCI bus, rebinds the controller and re-registers
// the ftdi_sio ids so the serial device node can reappear.
func (u *USBResetter) RestorePower(ctx context.Context) error {
	if u.pciAddr == "" {
		return errors.New("restore power before cut power")
	}
	if err := writeSysfs(u.RescanPath, "1"); err != nil {
		return fmt.Errorf("pci rescan: %w", err)
	}
	if err := sleep(ctx, 3*time.Second); err != nil {
		return err
	}
	if err := writeSysfs(filepath.Join(u.DriverDir, "bind"), u.pciAddr); err != nil {
		return fmt.Errorf("bind xhci controller: %w", err)
	}
	if err := sleep(ctx, 5*time.Second); err != nil {
		return err
	}
	if out, err := exec.CommandContext(ctx, "modprobe", "ftdi_sio").CombinedOutput(); err != nil {
		u.logger.Warn("modprobe ftdi_sio failed", "error", err, "output", string(out))
	}
	// Fails with EINVAL when the id pair is already registered.
	if err := writeSysfs(u.NewIDPath, u.USBIDs); err != nil {
		u.logger.Debug("ftdi_sio id registration skipped", "error", err)
	}
	return nil
}

// WaitForDevice polls for the serial device node until it appears or the
// timeout elapses.
func (u *USBResetter) WaitForDevice(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}
		matches, err := filepath.Glob(u.DeviceGlob)
		if err != nil {
			return fmt.Errorf("glob %s: %w", u.DeviceGlob, err)
		}
		if len(matches) > 0 {
			u.logger.Info("device node reappeared", "device", matches[0])
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("device did not reappear within %s", timeout)
		}
	}
}

func (u *USBResetter) findController() (string, error) {
	matches, err := filepath.Glob(filepath.Join(u.DriverDir, "????:??:??.?"))
	if err != nil {
		return "", fmt.Errorf("glob pci devices: %w", err)
	}
	if len(matches) == 0 {
		return "", errors.New("no xhci pci controller found")
	}
	return filepath.Base(matches[0]), nil
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

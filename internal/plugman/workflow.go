package plugman

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"plugsync/internal/inventory"
	"plugsync/internal/sshchannel"
)

// stepOutcome types the difference between an ignored failure and a real
// one, instead of burying it in "cmd || true" string conventions.
type stepOutcome int

const (
	stepSucceeded stepOutcome = iota
	stepFailedNonFatal
	stepFailedFatal
)

// remote runs a command and folds a non-zero exit into the error.
func (m *Manager) remote(cmd string) (string, error) {
	out, code, err := m.ch.Execute(cmd)
	if err != nil {
		return out, err
	}
	if code != 0 {
		return out, fmt.Errorf("exit %d: %s", code, strings.TrimSpace(out))
	}
	return out, nil
}

// bestEffort runs a command whose failure must not abort the workflow.
func (m *Manager) bestEffort(cmd, what string) stepOutcome {
	if _, err := m.remote(cmd); err != nil {
		log.Printf("plugman: %s failed (continuing): %v", what, err)
		return stepFailedNonFatal
	}
	return stepSucceeded
}

// cancelled finalizes as failure when shutdown was requested mid-workflow.
func (m *Manager) cancelled() bool {
	if m.ctx.Err() != nil {
		m.finish(false, "operation cancelled")
		return true
	}
	return false
}

func (m *Manager) remotePluginPath(name string) string {
	return m.cfg.RemotePath + "/" + name + m.cfg.Suffix
}

// runInstall drives the install step sequence. Only the transfer (and the
// directory/sync steps around it) can abort; the remount is best-effort.
func (m *Manager) runInstall(entity inventory.Entity) {
	remotePath := m.remotePluginPath(entity.Name)

	if m.cfg.Device.RemountWritable {
		m.setProgress(0.1, "Remounting filesystem writable...")
		m.bestEffort("mount -o remount,rw /", "remount")
	} else {
		m.setProgress(0.1, "")
	}
	if m.cancelled() {
		return
	}

	m.setProgress(0.2, "Preparing plugin directory...")
	if _, err := m.remote(fmt.Sprintf("mkdir -p %s", sshchannel.QuotePath(m.cfg.RemotePath))); err != nil {
		m.finish(false, fmt.Sprintf("Cannot create plugin directory: %v", err))
		return
	}
	if m.cancelled() {
		return
	}

	if m.sameContent(entity.LocalPath, remotePath) {
		m.setProgress(0.9, "Already up to date")
	} else {
		err := m.ch.CopyToDevice(m.ctx, entity.LocalPath, remotePath, func(f float64, msg string) {
			// Transfer sub-progress owns the [0.2, 0.9] band.
			m.setProgress(0.2+0.7*f, msg)
		})
		if err != nil {
			m.finish(false, fmt.Sprintf("Transfer failed: %v", err))
			return
		}

		// Post-copy size check is diagnostic only; the transfer's own
		// verdict stays authoritative for install.
		if size, err := m.ch.StatSize(remotePath); err != nil {
			log.Printf("plugman: cannot verify %s after copy: %v", remotePath, err)
		} else if size != entity.LocalSize {
			log.Printf("plugman: size mismatch after copy: local %d, remote %d", entity.LocalSize, size)
		}
	}
	if m.cancelled() {
		return
	}

	m.setProgress(0.95, "Syncing device filesystem...")
	if _, err := m.remote("sync"); err != nil {
		m.finish(false, fmt.Sprintf("Sync failed: %v", err))
		return
	}

	m.finish(true, fmt.Sprintf("Installed %s", entity.Name))
}

// runUninstall drives the uninstall step sequence. The delete command's
// exit code is not trusted; post-delete absence is the success criterion.
func (m *Manager) runUninstall(entity inventory.Entity) {
	if m.cfg.Device.RemountWritable {
		m.setProgress(0.1, "Remounting filesystem writable...")
		m.bestEffort("mount -o remount,rw /", "remount")
	} else {
		m.setProgress(0.1, "")
	}
	if m.cancelled() {
		return
	}

	m.setProgress(0.2, "Stopping host service...")
	if m.cfg.Device.ServiceStop != "" {
		m.bestEffort(m.cfg.Device.ServiceStop, "service stop")
	}
	if m.cancelled() {
		return
	}

	m.setProgress(0.4, fmt.Sprintf("Removing %s...", entity.Name))
	if err := m.ch.DeleteFile(entity.RemotePath); err != nil {
		m.finish(false, fmt.Sprintf("Delete failed: %v", err))
		return
	}
	if m.cancelled() {
		return
	}

	m.setProgress(0.6, "Cleaning up side files...")
	for _, dir := range m.cfg.Device.CleanupPaths {
		pattern := dir + "/" + entity.Name + "*"
		m.bestEffort(fmt.Sprintf("rm -rf %s", pattern), fmt.Sprintf("cleanup %s", pattern))
	}
	if m.cancelled() {
		return
	}

	m.setProgress(0.8, "Syncing device filesystem...")
	if _, err := m.remote("sync"); err != nil {
		m.finish(false, fmt.Sprintf("Sync failed: %v", err))
		return
	}

	m.setProgress(0.9, "Restarting host service...")
	if m.cfg.Device.ServiceStart != "" {
		m.bestEffort(m.cfg.Device.ServiceStart, "service start")
	}

	// Verification is authoritative: a clean rm exit means nothing if the
	// file is still there.
	exists, err := m.ch.FileExists(entity.RemotePath)
	if err != nil {
		m.finish(false, fmt.Sprintf("Cannot verify removal: %v", err))
		return
	}
	if exists {
		m.finish(false, fmt.Sprintf("%s still present after delete", entity.RemotePath))
		return
	}

	m.finish(true, fmt.Sprintf("Uninstalled %s", entity.Name))
}

// sameContent compares local and remote sha256 so an unchanged plugin skips
// the transfer. Any failure just means "transfer anyway".
func (m *Manager) sameContent(localPath, remotePath string) bool {
	f, err := os.Open(localPath)
	if err != nil {
		return false
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return false
	}
	localHash := fmt.Sprintf("%x", hasher.Sum(nil))

	out, err := m.remote(fmt.Sprintf("sha256sum %s 2>/dev/null | cut -d' ' -f1", sshchannel.QuotePath(remotePath)))
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == localHash
}

package sshchannel

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"plugsync/internal/config"
	"plugsync/internal/events"
)

// Client implements Channel over an SSH connection to the device.
type Client struct {
	addr           string
	sshConfig      *ssh.ClientConfig
	connectTimeout time.Duration
	commandTimeout time.Duration

	// mu serializes every remote call; the device's dropbear server copes
	// badly with parallel sessions on one connection.
	mu     sync.Mutex
	client *ssh.Client

	statusMu sync.Mutex
	status   Status
}

// NewClient builds a client from config. Password and private key auth are
// both supported; the stock device only speaks password auth.
func NewClient(cfg *config.Config) (*Client, error) {
	var auth []ssh.AuthMethod

	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.PrivateKey != "" {
		key, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %v", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no auth method configured")
	}

	connectTimeout := cfg.Device.ConnectTimeout()

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // the device regenerates its host key on factory reset
		Timeout:         connectTimeout,
	}

	return &Client{
		addr:           fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		sshConfig:      sshConfig,
		connectTimeout: connectTimeout,
		commandTimeout: cfg.Device.CommandTimeout(),
		status:         StatusUnknown,
	}, nil
}

func (c *Client) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.statusMu.Lock()
	prev := c.status
	c.status = s
	c.statusMu.Unlock()

	if prev == s {
		return
	}
	switch s {
	case StatusConnected:
		events.GlobalBus.Publish(events.EventDeviceConnected)
	case StatusDisconnected:
		events.GlobalBus.Publish(events.EventDeviceDisconnected)
	}
}

// connect dials if needed. Caller must hold mu.
func (c *Client) connect() error {
	if c.client != nil {
		return nil
	}
	client, err := ssh.Dial("tcp", c.addr, c.sshConfig)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %v", c.addr, err)
	}
	c.client = client
	return nil
}

// drop closes the broken connection so the next call redials. Caller must
// hold mu.
func (c *Client) drop() {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
}

// CheckConnection runs a quick "echo ok" probe, bounded by the connect
// timeout, and caches the result.
func (c *Client) CheckConnection() {
	c.setStatus(StatusChecking)

	type probeResult struct {
		out string
		err error
	}
	ch := make(chan probeResult, 1)
	go func() {
		out, _, err := c.Execute("echo ok")
		ch <- probeResult{out, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && strings.Contains(r.out, "ok") {
			c.setStatus(StatusConnected)
		} else {
			log.Printf("ssh: connectivity probe failed: %v", r.err)
			c.setStatus(StatusDisconnected)
		}
	case <-time.After(c.connectTimeout + c.commandTimeout):
		log.Printf("ssh: connectivity probe timed out")
		c.mu.Lock()
		c.drop()
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)
	}
}

// Execute runs a command on the device and returns combined output plus the
// remote exit code. A transport failure drops the connection so the next
// call redials.
func (c *Client) Execute(cmd string) (string, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return "", -1, err
	}

	session, err := c.client.NewSession()
	if err != nil {
		c.drop()
		return "", -1, fmt.Errorf("failed to create session: %v", err)
	}
	defer session.Close()

	// Bound the command; a wedged device should fail, not hang the caller.
	done := make(chan struct{})
	timer := time.AfterFunc(c.commandTimeout, func() {
		select {
		case <-done:
		default:
			session.Close()
		}
	})
	defer timer.Stop()

	output, err := session.CombinedOutput(cmd)
	close(done)

	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return string(output), exitErr.ExitStatus(), nil
		}
		c.drop()
		return string(output), -1, fmt.Errorf("command failed: %v", err)
	}
	return string(output), 0, nil
}

// ListDirectory lists a device directory one entry per line. A missing
// directory is an empty listing, not an error.
func (c *Client) ListDirectory(path string) ([]string, error) {
	out, code, err := c.Execute(fmt.Sprintf("ls -1 %s 2>/dev/null", QuotePath(path)))
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, nil
	}
	var entries []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

// CopyToDevice uploads localPath to remotePath using the scp -t wire
// protocol, reporting transfer progress in chunks.
func (c *Client) CopyToDevice(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %v", err)
	}
	defer localFile.Close()

	stat, err := localFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return err
	}

	session, err := c.client.NewSession()
	if err != nil {
		c.drop()
		return fmt.Errorf("failed to create session: %v", err)
	}
	defer session.Close()

	// Abort the transfer when the caller gives up.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-watchDone:
		}
	}()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %v", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %v", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %v", err)
	}

	targetDir := filepath.Dir(remotePath)
	if err := session.Start(fmt.Sprintf("scp -t %s", QuotePath(targetDir))); err != nil {
		return fmt.Errorf("failed to start scp on remote: %v", err)
	}

	readAck := func() error {
		buf := make([]byte, 1)
		ch := make(chan error, 1)

		go func() {
			if _, err := stdout.Read(buf); err != nil {
				ch <- fmt.Errorf("failed to read scp ack: %v", err)
				return
			}
			switch buf[0] {
			case 0:
				ch <- nil
			case 1, 2:
				msg := make([]byte, 1024)
				n, _ := stderr.Read(msg)
				ch <- fmt.Errorf("scp remote error: %s", strings.TrimSpace(string(msg[:n])))
			default:
				ch <- fmt.Errorf("unknown scp ack: %v", buf[0])
			}
		}()

		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.commandTimeout):
			return fmt.Errorf("timeout waiting for scp ack")
		}
	}

	fail := func(err error) error {
		stdin.Close()
		_ = session.Wait()
		return err
	}

	if err := readAck(); err != nil {
		return fail(err)
	}

	filename := filepath.Base(remotePath)
	fmt.Fprintf(stdin, "C%04o %d %s\n", stat.Mode().Perm(), stat.Size(), filename)

	if err := readAck(); err != nil {
		return fail(err)
	}

	if onProgress != nil {
		onProgress(0.0, "Transferring "+filename)
	}

	// Chunked copy so progress is real, not cosmetic.
	var written int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n, rerr := localFile.Read(buf)
		if n > 0 {
			if _, werr := stdin.Write(buf[:n]); werr != nil {
				return fail(fmt.Errorf("failed to send file data: %v", werr))
			}
			written += int64(n)
			if onProgress != nil && stat.Size() > 0 {
				onProgress(float64(written)/float64(stat.Size()), "Transferring "+filename)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("failed to read local file: %v", rerr))
		}
	}

	if _, err := stdin.Write([]byte{0}); err != nil {
		return fail(fmt.Errorf("failed to send scp terminator: %v", err))
	}

	if err := readAck(); err != nil {
		return fail(err)
	}

	stdin.Close()
	if err := session.Wait(); err != nil {
		return fmt.Errorf("remote scp command failed: %v", err)
	}

	if onProgress != nil {
		onProgress(1.0, "Transfer complete")
	}
	return nil
}

// DeleteFile removes a device file. rm -f succeeds on already-absent files,
// so callers that care re-check existence afterwards.
func (c *Client) DeleteFile(path string) error {
	out, code, err := c.Execute(fmt.Sprintf("rm -f %s", QuotePath(path)))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("rm failed (%d): %s", code, strings.TrimSpace(out))
	}
	return nil
}

// StatSize returns a device file's size in bytes.
func (c *Client) StatSize(path string) (int64, error) {
	out, code, err := c.Execute(fmt.Sprintf("stat -c %%s %s 2>/dev/null", QuotePath(path)))
	if err != nil {
		return -1, err
	}
	if code != 0 {
		return -1, fmt.Errorf("no such file: %s", path)
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if perr != nil {
		return -1, fmt.Errorf("unexpected stat output %q: %v", strings.TrimSpace(out), perr)
	}
	return size, nil
}

// FileExists reports whether path exists as a regular file on the device.
func (c *Client) FileExists(path string) (bool, error) {
	out, code, err := c.Execute(fmt.Sprintf("test -f %s && echo exists", QuotePath(path)))
	if err != nil {
		return false, err
	}
	return code == 0 && strings.Contains(out, "exists"), nil
}

// Close tears down the connection and resets the cached status.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatus(StatusUnknown)
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

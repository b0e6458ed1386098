package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bitteprotocol/make-agent/internal/domain"
)

const sshTerminateGrace = 5 * time.Second

// SSHArgs returns the ssh arguments for a reverse forward of remote port 80
// to localPort.
func SSHArgs(host, keyPath string, localPort int) []string {
	return []string{
		"-R", "80:localhost:" + strconv.Itoa(localPort),
		host,
		"-i", keyPath,
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ServerAliveInterval=30",
	}
}

type sshTunnel struct {
	opts SSHOptions
	log  *slog.Logger
}

func newSSHTunnel(opts SSHOptions, logger *slog.Logger) *sshTunnel {
	if opts.Command == nil {
		opts.Command = exec.Command
	}
	if opts.KeyBits <= 0 {
		opts.KeyBits = DefaultKeyBits
	}
	return &sshTunnel{opts: opts, log: logger}
}

func (t *sshTunnel) start(ctx context.Context, localPort int) (*Session, error) {
	created, err := EnsureKeyPair(t.opts.KeyPath, t.opts.KeyBits)
	if err != nil {
		return nil, setupErr(domain.TunnelSSHReverse, err)
	}
	if created {
		t.log.Info("generated ssh key", "path", t.opts.KeyPath)
	}

	cmd := t.opts.Command("ssh", SSHArgs(t.opts.Host, t.opts.KeyPath, localPort)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, setupErr(domain.TunnelSSHReverse, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, setupErr(domain.TunnelSSHReverse, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, setupErr(domain.TunnelSSHReverse, fmt.Errorf("start ssh: %w", err))
	}

	found := make(chan string, 1)
	exited := make(chan struct{})
	var waitErr error

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		var sc forwardScanner
		t.scanLines(stdout, func(line string) {
			if u, ok := sc.Feed(line); ok {
				found <- u
				return
			}
			t.log.Debug("ssh", "line", line)
		})
		sc.Fail()
	}()
	go func() {
		defer readers.Done()
		t.scanLines(stderr, func(line string) {
			t.log.Warn("ssh stderr", "line", line)
		})
	}()
	go func() {
		readers.Wait()
		waitErr = cmd.Wait()
		close(exited)
	}()

	proc := &sshProcess{cmd: cmd, exited: exited}
	var publicURL string
	select {
	case publicURL = <-found:
	case <-exited:
		select {
		case publicURL = <-found:
		default:
		}
	case <-ctx.Done():
		_ = proc.terminate()
		return nil, setupErr(domain.TunnelSSHReverse, ctx.Err())
	}
	if publicURL == "" {
		return nil, setupErr(domain.TunnelSSHReverse, fmt.Errorf("ssh exited before reporting a forwarding url: %w", exitCause(waitErr)))
	}

	sess := newSession(domain.TunnelSSHReverse, publicURL)
	sess.teardown = proc.terminate
	go func() {
		<-exited
		if proc.terminated() {
			sess.finish(nil)
			return
		}
		sess.finish(fmt.Errorf("ssh exited: %w", exitCause(waitErr)))
	}()
	t.log.Info("tunnel ready", "public_url", publicURL, "host", t.opts.Host)
	return sess, nil
}

func (t *sshTunnel) scanLines(r io.Reader, fn func(string)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fn(sc.Text())
	}
}

func exitCause(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}
	return err
}

type sshProcess struct {
	cmd    *exec.Cmd
	exited <-chan struct{}

	once sync.Once
	mu   sync.Mutex
	term bool
}

func (p *sshProcess) terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.term
}

// terminate sends SIGTERM and falls back to Kill after a grace period or
// where signals are unsupported.
func (p *sshProcess) terminate() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.term = true
		p.mu.Unlock()

		select {
		case <-p.exited:
			return
		default:
		}
		if sigErr := p.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil {
			err = p.cmd.Process.Kill()
		}
		select {
		case <-p.exited:
		case <-time.After(sshTerminateGrace):
			err = p.cmd.Process.Kill()
			<-p.exited
		}
	})
	return err
}

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bitteprotocol/make-agent/internal/domain"
	"github.com/bitteprotocol/make-agent/internal/log"
)

// TestHelperProcess stands in for the ssh binary. It is only active when
// re-executed by helperCommand.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "forward":
		fmt.Fprintln(os.Stderr, "Warning: Permanently added 'serveo.net' to the list of known hosts.")
		fmt.Println("Forwarding HTTP traffic from https://abc123.serveo.net")
		time.Sleep(time.Minute)
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "Permission denied (publickey).")
		os.Exit(255)
	case "silent":
		fmt.Println("connected")
		os.Exit(0)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperCommand(mode string) func(string, ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

func newSSHProvisioner(t *testing.T, mode string) *Provisioner {
	t.Helper()
	return NewProvisioner(Options{
		SSH: SSHOptions{
			Host:    "serveo.net",
			KeyPath: filepath.Join(t.TempDir(), "ssh", "serveo_key"),
			KeyBits: 2048,
			Command: helperCommand(mode),
		},
		Logger: log.Discard(),
	})
}

func TestSSHArgs(t *testing.T) {
	t.Parallel()

	got := SSHArgs("serveo.net", "/home/dev/.ssh/serveo_key", 3000)
	want := []string{
		"-R", "80:localhost:3000",
		"serveo.net",
		"-i", "/home/dev/.ssh/serveo_key",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ServerAliveInterval=30",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSSHProvisionResolvesForwardingURL(t *testing.T) {
	t.Parallel()

	sess, err := newSSHProvisioner(t, "forward").Provision(context.Background(), domain.TunnelSSHReverse, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if sess.PublicURL != "https://abc123.serveo.net" || sess.Kind != domain.TunnelSSHReverse {
		t.Fatalf("unexpected session %+v", sess)
	}
	select {
	case <-sess.Done():
		t.Fatal("session ended before teardown")
	default:
	}

	if err := sess.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	waitDone(t, sess)
	if sess.Err() != nil {
		t.Fatalf("deliberate teardown should not report an error, got %v", sess.Err())
	}
	if err := sess.Teardown(); err != nil {
		t.Fatalf("second teardown should be a no-op, got %v", err)
	}
}

func TestSSHProvisionFailsWhenProcessExitsEarly(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"fail", "silent"} {
		_, err := newSSHProvisioner(t, mode).Provision(context.Background(), domain.TunnelSSHReverse, 3000)
		if !errors.Is(err, domain.ErrTunnelSetup) {
			t.Fatalf("%s: expected ErrTunnelSetup, got %v", mode, err)
		}
	}
}

func TestSSHProvisionHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := newSSHProvisioner(t, "hang").Provision(ctx, domain.TunnelSSHReverse, 3000)
	if !errors.Is(err, domain.ErrTunnelSetup) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected setup error wrapping deadline, got %v", err)
	}
}

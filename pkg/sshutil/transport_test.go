package sshutil

import (
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
)

func TestSSHCommandRunner_Execute(t *testing.T) {
	srv := newTestServer(t)
	srv.exec = func(cmd string) (string, string, int) {
		switch cmd {
		case "hostname":
			return "web1\n", "", 0
		case "systemctl start app":
			return "", "Job for app.service failed\n", 1
		}
		return "", "command not found\n", 127
	}
	client := srv.connect(t)
	runner := NewSSHCommandRunner(client)
	defer runner.Close()

	got, err := runner.Execute(t.Context(), "hostname")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "web1" {
		t.Errorf("Execute() = %q, want %q", got, "web1")
	}

	_, err = runner.Execute(t.Context(), "systemctl start app")
	var exitErr *shell.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Execute() error = %v, want *shell.ExitError", err)
	}
	if exitErr.Status != 1 {
		t.Errorf("ExitError.Status = %d, want 1", exitErr.Status)
	}
	if exitErr.Output != "Job for app.service failed" {
		t.Errorf("ExitError.Output = %q", exitErr.Output)
	}

	result, err := runner.RunWithOutput(t.Context(), "missing")
	if err != nil {
		t.Fatalf("RunWithOutput() error = %v", err)
	}
	if result.ExitCode != 127 || result.Stderr != "command not found\n" {
		t.Errorf("RunWithOutput() = %+v, want exit 127 with stderr", result)
	}
}

func TestOpenShell(t *testing.T) {
	srv := newTestServer(t)
	srv.shell = func(line string) string {
		if line == "whoami" {
			return "deploy"
		}
		return ""
	}
	client := srv.connect(t)

	ch, err := OpenShell(client, "")
	if err != nil {
		t.Fatalf("OpenShell() error = %v", err)
	}

	p := shell.New(ch)
	defer p.Close()

	if err := p.Drain(t.Context()); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	got, err := p.Execute(t.Context(), "whoami")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "deploy" {
		t.Errorf("Execute() = %q, want %q", got, "deploy")
	}
}

func TestSFTPFileSystem(t *testing.T) {
	srv := newTestServer(t)
	client := srv.connect(t)

	fs := NewSFTPFileSystem(client)
	if err := fs.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer fs.Close()

	root := t.TempDir()
	dir := filepath.Join(root, "app")
	file := filepath.Join(dir, "config.yaml")

	t.Run("create in missing directory", func(t *testing.T) {
		_, err := fs.Create(file)
		if !errors.Is(err, iofs.ErrNotExist) {
			t.Errorf("Create() error = %v, want %v", err, iofs.ErrNotExist)
		}
	})

	t.Run("mkdir with missing parent", func(t *testing.T) {
		err := fs.Mkdir(filepath.Join(root, "a", "b"))
		if !errors.Is(err, iofs.ErrNotExist) {
			t.Errorf("Mkdir() error = %v, want %v", err, iofs.ErrNotExist)
		}
	})

	t.Run("mkdir create read", func(t *testing.T) {
		if err := fs.Mkdir(dir); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}

		w, err := fs.Create(file)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if _, err := io.WriteString(w, "listen: 8080\n"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		local, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("os.ReadFile() error = %v", err)
		}
		if string(local) != "listen: 8080\n" {
			t.Errorf("uploaded content = %q", local)
		}

		data, err := fs.ReadFile(file)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != "listen: 8080\n" {
			t.Errorf("ReadFile() = %q", data)
		}

		info, err := fs.Stat(dir)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if !info.IsDir() {
			t.Errorf("Stat(%s).IsDir() = false", dir)
		}
	})

	t.Run("mkdir existing directory", func(t *testing.T) {
		err := fs.Mkdir(dir)
		if err == nil {
			t.Fatal("Mkdir() on existing directory expected error")
		}
		if errors.Is(err, iofs.ErrNotExist) {
			t.Errorf("Mkdir() error = %v, must not match %v", err, iofs.ErrNotExist)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := fs.Remove(file); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if _, err := os.Stat(file); !os.IsNotExist(err) {
			t.Errorf("file still exists after Remove(): %v", err)
		}
		if err := fs.Remove(file); !errors.Is(err, iofs.ErrNotExist) {
			t.Errorf("second Remove() error = %v, want %v", err, iofs.ErrNotExist)
		}
	})

	t.Run("open missing", func(t *testing.T) {
		_, err := fs.Open(filepath.Join(root, "missing"))
		if !errors.Is(err, iofs.ErrNotExist) {
			t.Errorf("Open() error = %v, want %v", err, iofs.ErrNotExist)
		}
		if !strings.Contains(err.Error(), "missing") {
			t.Errorf("Open() error = %v, want path in message", err)
		}
	})

	if err := fs.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := fs.Stat(dir); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Stat() after Close() error = %v, want %v", err, ErrNotConnected)
	}
}

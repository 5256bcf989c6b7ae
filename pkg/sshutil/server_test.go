package sshutil

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const testPrompt = "deploy@web1:~$ "

// testServer is an in-process SSH server supporting exec, PTY shells and
// the sftp subsystem (served from the local filesystem).
type testServer struct {
	t        *testing.T
	addr     string
	hostKey  ssh.PublicKey
	keyFile  string
	listener net.Listener

	mu       sync.Mutex
	commands []string
	exec     func(cmd string) (stdout, stderr string, status int)
	shell    func(line string) string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	s := &testServer{
		t:       t,
		hostKey: hostSigner.PublicKey(),
		keyFile: writeKeyFile(t, clientPriv, ""),
		exec: func(string) (string, string, int) {
			return "", "", 0
		},
		shell: func(string) string { return "" },
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()
	t.Cleanup(func() { _ = ln.Close() })

	go s.serve(cfg)

	return s
}

// writeKeyFile writes priv as an OpenSSH private key, encrypted when passphrase is set.
func writeKeyFile(t *testing.T, priv ed25519.PrivateKey, passphrase string) string {
	t.Helper()

	var (
		block *pem.Block
		err   error
	)
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return path
}

// config returns a client config for the server with known_hosts verification.
func (s *testServer) config() *Config {
	host, portStr, _ := net.SplitHostPort(s.addr)
	port, _ := strconv.Atoi(portStr)
	return &Config{
		Host:           host,
		Port:           port,
		User:           "deploy",
		KeyFile:        s.keyFile,
		KnownHostsFile: s.knownHosts(s.hostKey),
	}
}

func (s *testServer) knownHosts(key ssh.PublicKey) string {
	line := knownhosts.Line([]string{knownhosts.Normalize(s.addr)}, key)
	path := filepath.Join(s.t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		s.t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

func (s *testServer) connect(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(s.config())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func (s *testServer) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) serve(cfg *ssh.ServerConfig) {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nc, cfg)
	}
}

func (s *testServer) handleConn(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer func() { _ = conn.Close() }()

	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go s.runShell(ch)
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go s.runExec(ch, payload.Command)
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					_ = ch.Close()
					return
				}
				_ = server.Serve()
				_ = server.Close()
			}()
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) runExec(ch ssh.Channel, command string) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	stdout, stderr, status := s.exec(command)
	_, _ = io.WriteString(ch, stdout)
	_, _ = io.WriteString(ch.Stderr(), stderr)
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
	_ = ch.Close()
}

func (s *testServer) runShell(ch ssh.Channel) {
	defer func() { _ = ch.Close() }()

	_, _ = io.WriteString(ch, "Welcome to the test server\r\n"+testPrompt)

	scanner := bufio.NewScanner(ch)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		if line == "exit" {
			return
		}

		out := s.shell(line)
		if out != "" {
			out += "\r\n"
		}
		_, _ = io.WriteString(ch, line+"\r\n"+out+testPrompt)
	}
}

// Package sshutil is the SSH transport used by deployment sessions.
//
// It wraps golang.org/x/crypto/ssh and github.com/pkg/sftp into the pieces a
// session needs on one host:
//
//   - [Client]: one authenticated SSH connection with keepalive and
//     known_hosts verification
//   - [SFTPFileSystem]: file transfer and directory operations over SFTP
//   - [OpenShell]: an interactive PTY shell channel for [shell.Protocol]
//   - [SSHCommandRunner]: one exec channel per command, with real exit status
//
// # Basic Usage
//
//	client, err := sshutil.NewClient(&sshutil.Config{
//		Host:           "web1.example.com",
//		User:           "deploy",
//		KeyFile:        "/home/deploy/.ssh/id_ed25519",
//		KnownHostsFile: "/home/deploy/.ssh/known_hosts",
//	})
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close()
//
//	fs := sshutil.NewSFTPFileSystem(client)
//	if err := fs.Connect(ctx); err != nil {
//		return err
//	}
//	defer fs.Close()
//
// # Errors
//
// Missing remote paths surface as errors matching [io/fs.ErrNotExist], so
// callers can tell "not found" apart from permission or transport failures
// with errors.Is.
//
// # Security Considerations
//
// Host keys are verified against KnownHostsFile when it is set. Without it
// every host key is accepted and a warning is logged for each connection.
//
// [shell.Protocol]: gitlab.bluewillows.net/root/hostdeploy/pkg/shell.Protocol
package sshutil

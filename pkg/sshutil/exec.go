package sshutil

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Exec runs a command on the remote host and returns the output.
// Exit code is -1 if the command couldn't be executed at all.
func (c *Client) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode, err = c.ExecStream(context.Background(), cmd, nil, &stdoutBuf, &stderrBuf)
	if err != nil {
		return nil, nil, exitCode, err
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitCode, nil
}

// ExecStream runs a command with optional stdin and streams output to the
// provided writers. If ctx ends first the session is killed and closed.
// Either way nothing is written to stdout or stderr after it returns, so
// stdin must not block once the session is closed.
func (c *Client) ExecStream(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return -1, errors.WrapWithCode(err, errors.ErrRemoteAccess,
			fmt.Sprintf("Failed to open SSH session on '%s'", c.Host),
			"Connection may have been closed. Try again.")
	}
	defer session.Close()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(cmd); err != nil {
		return -1, errors.WrapWithCode(err, errors.ErrRemoteAccess,
			fmt.Sprintf("Failed to start command on '%s'", c.Host),
			"Check that the account can run commands on the remote host.")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// The output copiers stop once the channel closes.
		<-done
		return -1, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return exitErr.ExitStatus(), nil
		}
		return -1, errors.WrapWithCode(err, errors.ErrRemoteAccess,
			fmt.Sprintf("Command did not complete on '%s'", c.Host),
			"The connection dropped or the remote shell exited abnormally.")
	}

	return 0, nil
}

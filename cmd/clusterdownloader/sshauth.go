package main

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// sshAgentSigners dials the local ssh-agent (SSH_AUTH_SOCK) for the keys
// used to authenticate to the cluster's head and compute nodes, the usual
// way an operator's own credentials are reused for batch-queue access.
func sshAgentSigners() ([]ssh.Signer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("clusterdownloader: SSH_AUTH_SOCK is not set, no ssh-agent to authenticate with")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("clusterdownloader: failed to dial ssh-agent: %w", err)
	}
	return agent.NewClient(conn).Signers()
}

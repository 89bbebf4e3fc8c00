// Package control runs commands and copies files on provisioned nodes.
package control

import (
	"context"
	"os"
	"time"
)

// Controller defines the interface for remote node control
type Controller interface {
	// Close closes the connection
	Close() error

	// Run executes a command on the node and returns its stdout
	Run(ctx context.Context, command string) (string, error)

	// WriteFile writes content to a file on the node
	WriteFile(remotePath, content string, mode os.FileMode) error

	// InstanceName returns the node's instance name
	InstanceName() string
}

// Config defines configuration for creating controllers
type Config struct {
	Host         string
	Port         int // 22 when zero
	User         string
	PrivateKey   string // PEM-encoded
	Timeout      time.Duration
	SSHTimeout   time.Duration
	InstanceName string
}

// Dialer opens a Controller for a node
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Controller, error)
}

// SSHDialer dials nodes over SSH
type SSHDialer struct{}

// Dial implements Dialer.
func (SSHDialer) Dial(ctx context.Context, cfg Config) (Controller, error) {
	return NewSSH(ctx, cfg)
}

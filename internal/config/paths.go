package config

import (
	"os"
	"path/filepath"
)

// Paths locates the files watchr keeps under its data directory.
type Paths struct {
	Dir string
}

func (c *Config) Paths() Paths {
	return Paths{Dir: c.Dir}
}

// MakeDirs creates the data directory.
func (p Paths) MakeDirs() error {
	return os.MkdirAll(p.Dir, 0755)
}

// SocketPath is the player IPC socket for a role ("host" or "peer").
func (p Paths) SocketPath(role string) string {
	return filepath.Join(p.Dir, "sock."+role)
}

// MediaFile is where a peer stores the downloaded media.
func (p Paths) MediaFile() string {
	return filepath.Join(p.Dir, "media.mkv")
}

// PlayerLogPath receives the player's own stdout and stderr.
func (p Paths) PlayerLogPath(role string) string {
	return filepath.Join(p.Dir, "log.mpv."+role)
}

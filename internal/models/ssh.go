package models

// SSHShutdownConfig powers the destination host off once no backup is running.
type SSHShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when empty
	KeyPath       string
	KnownHosts    string // known_hosts file; empty accepts any host key
	ShutdownDelay int    // minutes
	OS            string // "linux" (default) or "windows"
}

// SSHResult holds the result of an SSH command.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}

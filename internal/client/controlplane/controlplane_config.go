package controlplane

const DefaultAddr = "localhost:7438"

// CPServerConfig configures the local control plane listener.
type CPServerConfig struct {
	Addr      string // Addr is the host:port the control plane binds
	AuthToken string // AuthToken guards the v1 API; empty runs it open
}

func (c *CPServerConfig) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	return nil
}

// Package domain defines the core data types shared across the tunnel,
// registry, state and orchestration layers.
package domain

// TunnelKind selects the transport used to expose the local port.
type TunnelKind string

// Supported tunnel strategies.
const (
	TunnelHosted     TunnelKind = "hosted"
	TunnelSSHReverse TunnelKind = "ssh"
)

// Valid reports whether k names a supported strategy.
func (k TunnelKind) Valid() bool {
	return k == TunnelHosted || k == TunnelSSHReverse
}

// SessionState is the persisted snapshot of a running dev session.
type SessionState struct {
	URL        string `json:"url"`
	PluginID   string `json:"pluginId"`
	ReceivedID string `json:"receivedId"`
}

// SessionPatch is a merge-patch for [SessionState]. Nil fields are left
// untouched.
type SessionPatch struct {
	URL        *string
	PluginID   *string
	ReceivedID *string
}

// Apply returns s with every non-nil field of p copied over.
func (p SessionPatch) Apply(s SessionState) SessionState {
	if p.URL != nil {
		s.URL = *p.URL
	}
	if p.PluginID != nil {
		s.PluginID = *p.PluginID
	}
	if p.ReceivedID != nil {
		s.ReceivedID = *p.ReceivedID
	}
	return s
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

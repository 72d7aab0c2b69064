package printer

import "log"

// HostCommandHandler processes one parsed `@`-prefixed command. It never
// touches the wire; `@` commands are interpreted by the host, not the
// firmware.
type HostCommandHandler func(gc *GCode)

// HostCommandRegistry maps host-command names to handlers. The original
// host's manageHostCommand was an empty stub; this is the extension point
// it was missing. No handlers are registered by default — unrecognized or
// unregistered commands are popped and logged, matching the original's
// behavior of silently discarding them.
type HostCommandRegistry struct {
	handlers map[string]HostCommandHandler
}

// NewHostCommandRegistry returns an empty registry.
func NewHostCommandRegistry() *HostCommandRegistry {
	return &HostCommandRegistry{handlers: make(map[string]HostCommandHandler)}
}

// Register installs a handler for a command name (the text immediately
// following '@', up to the first space).
func (r *HostCommandRegistry) Register(name string, h HostCommandHandler) {
	r.handlers[name] = h
}

// Dispatch runs the handler registered for gc's command name, if any.
func (r *HostCommandRegistry) Dispatch(gc *GCode) {
	name := gc.Text()
	if sp := indexOf(name, " "); sp >= 0 {
		name = name[:sp]
	}
	h, ok := r.handlers[name]
	if !ok {
		log.Printf("host command: unhandled %q", gc.Text())
		return
	}
	h(gc)
}

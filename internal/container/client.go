package container

import (
	"context"
	"encoding/json"

	"github.com/cryguy/swkit/internal/core"
)

// pageClient is the page's side of worker -> client messaging. Messages
// surface as "message" events; UPDATE_AVAILABLE keeps its type as the
// message text, anything else carries its JSON encoding.
type pageClient struct{ c *Container }

func (p pageClient) PostMessage(_ context.Context, msg core.Message) error {
	if msg.Type == core.MessageUpdateAvailable {
		p.c.emit(core.Event{Type: "message", Message: core.MessageUpdateAvailable})
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.c.emit(core.Event{Type: "message", Message: string(data)})
	return nil
}

// Waiting returns the installed worker waiting to take over the page's
// registration, or nil.
func (c *Container) Waiting() core.Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg := c.matchLocked(c.opts.PagePath)
	if reg == nil || reg.waiting == nil {
		return nil
	}
	return reg.waiting
}

package connection

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Toolkit pairs responses with in-flight requests for transports that
// multiplex calls over one socket.
type Toolkit struct {
	responseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	responseChannelsLock sync.RWMutex
}

func NewToolkit() *Toolkit {
	return &Toolkit{responseChannels: make(map[string]chan RPCResponse[cbor.RawMessage])}
}

func (tk *Toolkit) CreateResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	tk.responseChannelsLock.Lock()
	defer tk.responseChannelsLock.Unlock()

	if _, ok := tk.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrIDInUse, id)
	}

	// Buffered so the reader never blocks on a caller that gave up.
	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	tk.responseChannels[id] = ch

	return ch, nil
}

func (tk *Toolkit) RemoveResponseChannel(id string) {
	tk.responseChannelsLock.Lock()
	defer tk.responseChannelsLock.Unlock()
	delete(tk.responseChannels, id)
}

// Deliver hands res to the waiting caller. It reports false when nobody is
// waiting for that id.
func (tk *Toolkit) Deliver(id string, res RPCResponse[cbor.RawMessage]) bool {
	tk.responseChannelsLock.RLock()
	defer tk.responseChannelsLock.RUnlock()

	ch, ok := tk.responseChannels[id]
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

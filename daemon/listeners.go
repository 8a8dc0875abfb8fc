package daemon

import (
	"fmt"
	"net"
)

type ListenersOptions struct {
	Address      string
	DeliveryPort int
}

type Listeners struct {
	deliveryListener net.Listener
}

func NewListeners(opts *ListenersOptions) (*Listeners, error) {
	var err error
	l := &Listeners{}

	if opts.DeliveryPort >= 0 {
		l.deliveryListener, err = net.Listen("tcp", fmt.Sprintf("%s:%d", opts.Address, opts.DeliveryPort))
		if err != nil {
			l.Close()
			return nil, err
		}
	}

	return l, nil
}

func (l *Listeners) BoundDeliveryPort() int {
	if l.deliveryListener == nil {
		return 0
	}
	return l.deliveryListener.Addr().(*net.TCPAddr).Port
}

func (l *Listeners) Close() error {
	if l.deliveryListener != nil {
		l.deliveryListener.Close()
		l.deliveryListener = nil
	}

	return nil
}

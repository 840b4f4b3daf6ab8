package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blimp/internal/peripheral"
)

// buildService converts a service graph into a go-ble service whose handlers forward
// every access to the peripheral
func (s *Stack) buildService(g peripheral.ServiceGraph) (*ble.Service, error) {
	su, err := ble.Parse(g.UUID)
	if err != nil {
		return nil, err
	}
	svc := ble.NewService(su)

	for _, c := range g.Characteristics {
		cu, err := ble.Parse(c.UUID)
		if err != nil {
			return nil, err
		}
		h := peripheral.CharacteristicHandle{Service: g.UUID, UUID: c.UUID}
		props := ble.Property(c.Properties)

		char := svc.NewCharacteristic(cu)
		if props&ble.CharRead != 0 {
			char.HandleRead(s.readHandler(h, ""))
		}
		if props&(ble.CharWrite|ble.CharWriteNR) != 0 {
			char.HandleWrite(s.writeHandler(h, ""))
		}
		if props&ble.CharNotify != 0 {
			char.HandleNotify(s.notifyHandler(h))
		}
		if props&ble.CharIndicate != 0 {
			char.HandleIndicate(s.notifyHandler(h))
		}
		// the Handle* calls above add their own property bits
		char.Property = props

		for _, d := range c.Descriptors {
			du, err := ble.Parse(d.UUID)
			if err != nil {
				return nil, err
			}
			desc := char.NewDescriptor(du)
			desc.HandleRead(s.readHandler(h, d.UUID))
			desc.HandleWrite(s.writeHandler(h, d.UUID))
		}
	}
	return svc, nil
}

func (s *Stack) readHandler(h peripheral.CharacteristicHandle, descriptor string) ble.ReadHandler {
	return ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		central := s.track(req.Conn())
		id, wait := s.open()
		s.emit(peripheral.ReadRequest{
			ID:             id,
			Central:        central,
			Characteristic: h,
			Descriptor:     descriptor,
			Offset:         req.Offset(),
		})

		r := wait()
		rsp.SetStatus(r.status)
		if r.status == peripheral.StatusSuccess && len(r.value) > 0 {
			_, _ = rsp.Write(r.value)
		}
	})
}

// writeHandler forwards writes. go-ble routes write commands through the same handler
// and drops their answer, so every write is reported as needing a response.
func (s *Stack) writeHandler(h peripheral.CharacteristicHandle, descriptor string) ble.WriteHandler {
	return ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		central := s.track(req.Conn())
		id, wait := s.open()
		s.emit(peripheral.WriteRequest{
			ID:             id,
			Central:        central,
			Characteristic: h,
			Descriptor:     descriptor,
			Offset:         req.Offset(),
			Value:          append([]byte(nil), req.Data()...),
			ResponseNeeded: true,
		})
		rsp.SetStatus(wait().status)
	})
}

// notifyHandler keeps the notifier of one subscription alive until the central unsubscribes
func (s *Stack) notifyHandler(h peripheral.CharacteristicHandle) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		central := s.track(req.Conn())
		key := notifierKey(h, central)
		s.notifiers.Set(key, n)
		s.emit(peripheral.Subscribe{Central: central, Characteristic: h})

		var done <-chan struct{}
		if ctx := n.Context(); ctx != nil {
			done = ctx.Done()
		}
		select {
		case <-done:
		case <-s.ctx.Done():
		}

		s.notifiers.Del(key)
		s.emit(peripheral.Unsubscribe{Central: central, Characteristic: h})
	})
}

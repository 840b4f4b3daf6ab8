package peripheral

import (
	"github.com/sirupsen/logrus"
)

// RespondToRequest answers a write request held for the write-request listener.
// Answering an unknown, already answered or expired request is an InternalProtocolError.
func (p *Peripheral) RespondToRequest(id RequestID, status Status, value []byte) error {
	return p.call(func() error {
		req, err := p.pending.take(id)
		if err != nil {
			p.logger.WithField("request", id).WithError(err).Error("Cannot respond to request")
			return err
		}

		p.stack.RespondToRequest(id, status, value)
		if status != StatusSuccess {
			p.logger.WithFields(logrus.Fields{"request": id, "status": status}).Debug("Write request rejected by application")
			return nil
		}

		if _, err := p.registry.SetValue(req.target, req.value); err != nil {
			p.logger.WithField("request", id).WithError(err).Warn("Accepted write target vanished")
			return nil
		}
		p.router.Dispatch(CategoryValueChanged, ValueChange{
			Characteristic: req.target,
			Central:        req.central,
			Value:          cloneBytes(req.value),
		})
		return nil
	})
}

// PendingRequests returns the number of write requests awaiting an answer
func (p *Peripheral) PendingRequests() int {
	var n int
	_ = p.call(func() error {
		n = p.pending.len()
		return nil
	})
	return n
}

func (p *Peripheral) onRead(r ReadRequest) {
	log := p.logger.WithFields(logrus.Fields{
		"request":        r.ID,
		"central":        r.Central,
		"characteristic": r.Characteristic.String(),
		"descriptor":     r.Descriptor,
		"offset":         r.Offset,
	})

	if !p.state.Ready() {
		log.Warn("Read request while not powered on")
		p.stack.RespondToRequest(r.ID, StatusAttributeNotFound, nil)
		return
	}

	if r.Descriptor != "" {
		info, status, _, err := p.registry.LookupDescriptor(DescriptorHandle{
			Service:        r.Characteristic.Service,
			Characteristic: r.Characteristic.UUID,
			UUID:           r.Descriptor,
		})
		if err != nil || status != ServicePublished {
			log.Warn("Read request for unknown descriptor")
			p.stack.RespondToRequest(r.ID, StatusAttributeNotFound, nil)
			return
		}
		if info.Permissions != 0 && !readable(info.Permissions) {
			p.stack.RespondToRequest(r.ID, StatusReadNotPermitted, nil)
			return
		}
		p.respondValue(r.ID, info.Value, r.Offset)
		return
	}

	info, status, _, err := p.registry.Lookup(r.Characteristic)
	if err != nil || status != ServicePublished {
		log.Warn("Read request for unknown characteristic")
		p.stack.RespondToRequest(r.ID, StatusAttributeNotFound, nil)
		return
	}
	if !info.Properties.Has(PropRead) || !readable(info.Permissions) {
		log.Warn("Read not permitted")
		p.stack.RespondToRequest(r.ID, StatusReadNotPermitted, nil)
		return
	}
	log.Debug("Answering read request")
	p.respondValue(r.ID, info.Value, r.Offset)
}

func (p *Peripheral) respondValue(id RequestID, value []byte, offset int) {
	if offset < 0 || offset > len(value) {
		p.stack.RespondToRequest(id, StatusInvalidOffset, nil)
		return
	}
	p.stack.RespondToRequest(id, StatusSuccess, cloneBytes(value[offset:]))
}

func (p *Peripheral) onWrite(w WriteRequest) {
	log := p.logger.WithFields(logrus.Fields{
		"request":        w.ID,
		"central":        w.Central,
		"characteristic": w.Characteristic.String(),
		"descriptor":     w.Descriptor,
		"offset":         w.Offset,
		"len":            len(w.Value),
	})
	respond := func(status Status) {
		if w.ResponseNeeded {
			p.stack.RespondToRequest(w.ID, status, nil)
		}
	}

	if !p.state.Ready() {
		log.Warn("Write request while not powered on")
		respond(StatusAttributeNotFound)
		return
	}

	if w.Descriptor != "" {
		p.onDescriptorWrite(w, respond)
		return
	}

	info, status, h, err := p.registry.Lookup(w.Characteristic)
	if err != nil || status != ServicePublished {
		log.Warn("Write request for unknown characteristic")
		respond(StatusAttributeNotFound)
		return
	}
	if !info.Properties.Writable() || !writable(info.Permissions) {
		log.Warn("Write not permitted")
		respond(StatusWriteNotPermitted)
		return
	}
	value, ok := applyOffset(info.Value, w.Offset, w.Value)
	if !ok {
		respond(StatusInvalidOffset)
		return
	}

	if _, listening := p.router.Listener(CategoryWriteRequest); listening && w.ResponseNeeded {
		req := &pendingRequest{id: w.ID, central: w.Central, target: h, value: value}
		if err := p.pending.add(req, p.expireRequest); err != nil {
			log.WithError(err).Error("Duplicate request id from stack")
			respond(StatusUnlikely)
			return
		}
		log.Debug("Write request held for application")
		p.router.Dispatch(CategoryWriteRequest, WriteRequestInfo{
			ID:             w.ID,
			Central:        w.Central,
			Characteristic: h,
			Offset:         w.Offset,
			Value:          cloneBytes(w.Value),
		})
		return
	}

	if _, err := p.registry.SetValue(h, value); err != nil {
		respond(StatusUnlikely)
		return
	}
	respond(StatusSuccess)
	log.Debug("Write applied")
	p.router.Dispatch(CategoryValueChanged, ValueChange{Characteristic: h, Central: w.Central, Value: value})
}

func (p *Peripheral) onDescriptorWrite(w WriteRequest, respond func(Status)) {
	info, status, h, err := p.registry.LookupDescriptor(DescriptorHandle{
		Service:        w.Characteristic.Service,
		Characteristic: w.Characteristic.UUID,
		UUID:           w.Descriptor,
	})
	if err != nil || status != ServicePublished {
		respond(StatusAttributeNotFound)
		return
	}
	if info.Permissions != 0 && !writable(info.Permissions) {
		respond(StatusWriteNotPermitted)
		return
	}
	value, ok := applyOffset(info.Value, w.Offset, w.Value)
	if !ok {
		respond(StatusInvalidOffset)
		return
	}
	if err := p.registry.SetDescriptorValue(h, value); err != nil {
		respond(StatusUnlikely)
		return
	}
	respond(StatusSuccess)
	p.router.Dispatch(CategoryDescriptorChanged, DescriptorChange{Descriptor: h, Central: w.Central, Value: value})
}

func (p *Peripheral) expireRequest(r *pendingRequest) {
	p.logger.WithFields(logrus.Fields{
		"request":        r.id,
		"central":        r.central,
		"characteristic": r.target.String(),
	}).Warn("Write request not answered in time, rejecting")
	p.stack.RespondToRequest(r.id, StatusUnlikely, nil)
}

// rejectPending answers every held write with Unlikely so the stack never waits on a request
// the application can no longer answer
func (p *Peripheral) rejectPending() int {
	dropped := p.pending.drain()
	for _, r := range dropped {
		p.stack.RespondToRequest(r.id, StatusUnlikely, nil)
	}
	return len(dropped)
}

func (p *Peripheral) onSubscribe(e Subscribe) {
	info, status, h, err := p.registry.Lookup(e.Characteristic)
	if err != nil || status != ServicePublished || !info.Properties.Notifiable() {
		p.logger.WithFields(logrus.Fields{
			"central":        e.Central,
			"characteristic": e.Characteristic.String(),
		}).Warn("Subscription to a non-notifiable characteristic ignored")
		return
	}
	if p.subs.add(h, e.Central) {
		p.logger.WithFields(logrus.Fields{"central": e.Central, "characteristic": h.String()}).Info("Central subscribed")
	}
}

func (p *Peripheral) onUnsubscribe(e Unsubscribe) {
	_, _, h, err := p.registry.Lookup(e.Characteristic)
	if err != nil {
		return
	}
	if p.subs.remove(h, e.Central) {
		p.logger.WithFields(logrus.Fields{"central": e.Central, "characteristic": h.String()}).Info("Central unsubscribed")
	}
}

func (p *Peripheral) onDisconnect(e CentralDisconnected) {
	subs := p.subs.removeCentral(e.Central)
	dropped := p.pending.dropCentral(e.Central)
	p.logger.WithFields(logrus.Fields{
		"central":       e.Central,
		"subscriptions": subs,
		"pending":       len(dropped),
	}).Info("Central disconnected")
}

// SetCharacteristicValue replaces a characteristic value and notifies subscribed centrals
func (p *Peripheral) SetCharacteristicValue(h CharacteristicHandle, value []byte) error {
	return p.call(func() error {
		info, status, resolved, err := p.registry.Lookup(h)
		if err != nil {
			return err
		}
		if _, err := p.registry.SetValue(resolved, value); err != nil {
			return err
		}
		if status != ServicePublished || !p.state.Ready() || !info.Properties.Notifiable() {
			return nil
		}

		centrals := p.subs.centrals(resolved)
		if len(centrals) == 0 {
			return nil
		}
		if err := p.stack.Notify(resolved, cloneBytes(value), centrals); err != nil {
			p.logger.WithField("characteristic", resolved.String()).WithError(err).Warn("Notify failed")
		}
		return nil
	})
}

// Subscribers returns the centrals subscribed to a characteristic
func (p *Peripheral) Subscribers(h CharacteristicHandle) ([]string, error) {
	var out []string
	err := p.call(func() error {
		_, _, resolved, err := p.registry.Lookup(h)
		if err != nil {
			return err
		}
		out = p.subs.centrals(resolved)
		return nil
	})
	return out, err
}

func readable(p Permissions) bool {
	return p&(PermReadable|PermReadEncryptionRequired) != 0
}

func writable(p Permissions) bool {
	return p&(PermWriteable|PermWriteEncryptionRequired) != 0
}

// applyOffset splices data into cur at offset (ATT long/prepared writes)
func applyOffset(cur []byte, offset int, data []byte) ([]byte, bool) {
	if offset < 0 || offset > len(cur) {
		return nil, false
	}
	out := make([]byte, 0, offset+len(data))
	out = append(out, cur[:offset]...)
	return append(out, data...), true
}

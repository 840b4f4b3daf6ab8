package peripheral

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

type advertising struct {
	active   bool
	starting string // correlation id of the start in flight
	current  Advertisement
}

// StartAdvertising makes the peripheral discoverable. It fails with StackNotReady
// unless the stack is powered on, without contacting the stack.
func (p *Peripheral) StartAdvertising(ctx context.Context, adv Advertisement) error {
	return p.await(ctx, func(resolve func(error)) {
		p.beginAdvertising(adv, resolve)
	})
}

// StopAdvertising turns advertising off; it is a no-op when not advertising
func (p *Peripheral) StopAdvertising() error {
	return p.call(func() error {
		if p.adv.starting != "" {
			p.router.Fail(opAdvertise, p.adv.starting, failedError(KindAdvertisingFailed, errors.New("stopped before start completed")))
			if p.state.Ready() {
				p.stack.StopAdvertising()
			}
			return nil
		}
		if !p.adv.active {
			return nil
		}
		p.stack.StopAdvertising()
		p.adv.active = false
		p.logger.Info("Advertising stopped")
		return nil
	})
}

// Advertising reports whether the peripheral is advertising
func (p *Peripheral) Advertising() bool {
	var on bool
	_ = p.call(func() error {
		on = p.adv.active
		return nil
	})
	return on
}

func (p *Peripheral) beginAdvertising(adv Advertisement, resolve func(error)) {
	if p.adv.active {
		resolve(failedError(KindAdvertisingFailed, errors.New("already advertising")))
		return
	}
	if p.adv.starting != "" {
		resolve(newError(KindPeripheralBusy, "advertising start already in progress"))
		return
	}

	uuids := make([]string, 0, len(adv.ServiceUUIDs))
	for _, u := range adv.ServiceUUIDs {
		n, err := NormalizeUUID(u)
		if err != nil {
			resolve(newError(KindMalformedDeclaration, "advertised service: %v", err))
			return
		}
		uuids = append(uuids, n)
	}
	adv.ServiceUUIDs = uuids

	corr := p.nextCorrelation("advertise")
	if err := p.router.Open(opAdvertise, corr, func(err error) {
		p.adv.starting = ""
		if err == nil {
			p.adv.active = true
			p.adv.current = adv
			p.logger.WithFields(logrus.Fields{
				"name":     adv.LocalName,
				"services": adv.ServiceUUIDs,
			}).Info("Advertising started")
		}
		resolve(err)
	}); err != nil {
		resolve(err)
		return
	}
	p.adv.starting = corr

	p.whenReady("advertise",
		func() {
			if p.adv.starting != corr {
				return
			}
			p.router.MarkSubmitted(opAdvertise, corr)
			p.stack.BeginAdvertising(adv, func(err error) {
				if err != nil {
					err = failedError(KindAdvertisingFailed, err)
				}
				_ = p.box.post(func() {
					_ = p.router.Resolve(opAdvertise, corr, err)
				})
			})
		},
		func(err error) { p.router.Fail(opAdvertise, corr, err) },
	)
}

func (p *Peripheral) onAdvertisingStopped(e AdvertisingStopped) {
	if !p.adv.active {
		return
	}
	p.adv.active = false
	entry := p.logger.WithField("name", p.adv.current.LocalName)
	if e.Reason != nil {
		entry = entry.WithError(e.Reason)
	}
	entry.Warn("Stack stopped advertising")
}

package goble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

var errAdvertisingEnded = errors.New("advertising ended before it settled")

// BeginAdvertising runs AdvertiseNameAndServices in the background. go-ble only returns
// from it when advertising ends, so the start is reported successful once advertising
// has survived AdvertiseSettle.
func (s *Stack) BeginAdvertising(adv peripheral.Advertisement, done func(error)) {
	uuids := make([]ble.UUID, 0, len(adv.ServiceUUIDs))
	for _, u := range adv.ServiceUUIDs {
		parsed, err := ble.Parse(u)
		if err != nil {
			done(fmt.Errorf("advertised service %q: %w", u, err))
			return
		}
		uuids = append(uuids, parsed)
	}

	groutine.Go(s.ctx, "ble-advertise", func(_ context.Context) {
		dev, err := s.device()
		if err != nil {
			done(err)
			return
		}

		ctx, cancel := context.WithCancel(s.ctx)
		s.mu.Lock()
		if s.advStop != nil {
			s.advStop()
		}
		s.advStop = cancel
		s.mu.Unlock()

		result := make(chan error, 1)
		groutine.Go(ctx, "ble-advertise-run", func(ctx context.Context) {
			result <- dev.AdvertiseNameAndServices(ctx, adv.LocalName, uuids...)
		})

		settle := time.NewTimer(s.opts.AdvertiseSettle)
		defer settle.Stop()
		select {
		case err := <-result:
			stopped := ctx.Err() != nil
			cancel()
			switch {
			case stopped:
				err = fmt.Errorf("%w: advertising stopped", errAdvertisingEnded)
			case err == nil:
				err = errAdvertisingEnded
			}
			done(NormalizeError(err))
			return
		case <-settle.C:
			done(nil)
		}

		err = <-result
		if ctx.Err() != nil {
			s.logger.WithField("name", adv.LocalName).Debug("Advertising stopped")
			return
		}
		cancel()
		s.logger.WithFields(logrus.Fields{"name": adv.LocalName, "error": err}).Warn("BLE device stopped advertising")
		s.emit(peripheral.AdvertisingStopped{Reason: NormalizeError(err)})
	})
}

func (s *Stack) StopAdvertising() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advStop != nil {
		s.advStop()
		s.advStop = nil
	}
}

package peripheral

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PublishService hands a built service to the stack and waits for the outcome.
// Different services may publish concurrently unless SerializePublications is set.
func (p *Peripheral) PublishService(ctx context.Context, h ServiceHandle) error {
	return p.await(ctx, func(resolve func(error)) {
		p.beginPublish(h, resolve)
	})
}

func (p *Peripheral) beginPublish(h ServiceHandle, resolve func(error)) {
	g, err := p.registry.Graph(h)
	if err != nil {
		resolve(err)
		return
	}
	key := ServiceHandle(g.UUID)

	switch g.Status {
	case ServicePublished:
		resolve(newError(KindServiceAlreadyPublished, "service %q", g.UUID))
		return
	case ServicePublishRequested:
		resolve(newError(KindPublicationInProgress, "service %q", g.UUID))
		return
	}
	if p.opts.SerializePublications && p.router.Pending(opPublish) > 0 {
		resolve(newError(KindPeripheralBusy, "another publication is in progress"))
		return
	}

	corr := p.nextCorrelation(g.UUID)
	if err := p.router.Open(opPublish, corr, func(err error) {
		p.finishPublish(key, err, resolve)
	}); err != nil {
		resolve(err)
		return
	}
	_ = p.registry.setStatus(key, ServicePublishRequested)

	p.whenReady("publish "+g.UUID,
		func() {
			if p.router.IsOpen(opPublish, corr) {
				p.submitService(key, corr)
			}
		},
		func(err error) { p.router.Fail(opPublish, corr, err) },
	)
}

func (p *Peripheral) submitService(key ServiceHandle, corr string) {
	g, err := p.registry.Graph(key)
	if err != nil {
		p.router.Fail(opPublish, corr, err)
		return
	}

	p.logger.WithFields(logrus.Fields{
		"service":         g.UUID,
		"characteristics": len(g.Characteristics),
	}).Info("Publishing service")

	p.router.MarkSubmitted(opPublish, corr)
	p.stack.SubmitService(g, func(err error) {
		if err != nil {
			err = failedError(KindPublicationFailed, err)
		}
		_ = p.box.post(func() {
			_ = p.router.Resolve(opPublish, corr, err)
		})
	})
}

func (p *Peripheral) finishPublish(key ServiceHandle, err error, resolve func(error)) {
	if err != nil {
		_ = p.registry.setStatus(key, ServiceBuilding)
		p.logger.WithFields(logrus.Fields{"service": key}).WithError(err).Warn("Service publication failed")
		resolve(err)
		return
	}
	_ = p.registry.setStatus(key, ServicePublished)
	p.logger.WithField("service", key).Info("Service published")
	resolve(nil)
}

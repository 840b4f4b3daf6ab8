package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/srg/blimp/internal/peripheral"
)

func (d *Dispatcher) createService(_ context.Context, cmd Command) (interface{}, error) {
	var args createServiceArgs
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return nil, err
	}
	primary := args.Primary == nil || *args.Primary
	h, err := d.p.CreateService(args.UUID, primary)
	if err != nil {
		return nil, err
	}
	return serviceResult{Service: h}, nil
}

// declarationBytes accepts the declaration either as an object or as a JSON/YAML string
func declarationBytes(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, badRequest{fmt.Errorf("missing declaration")}
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var doc string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, badRequest{fmt.Errorf("invalid declaration string: %w", err)}
	}
	return []byte(doc), nil
}

func (d *Dispatcher) createServiceFromDeclaration(_ context.Context, cmd Command) (interface{}, error) {
	data, err := declarationBytes(cmd.Args)
	if err != nil {
		return nil, err
	}
	h, err := d.p.CreateServiceFromDeclaration(data)
	if err != nil {
		return nil, err
	}
	return serviceResult{Service: h}, nil
}

func (d *Dispatcher) addCharacteristic(_ context.Context, cmd Command) (interface{}, error) {
	var args addCharacteristicArgs
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return nil, err
	}
	if args.Service == "" {
		return nil, badRequest{fmt.Errorf("service is required")}
	}

	// validate through the declaration path so both entry points reject the same input
	decl := peripheral.ServiceDeclaration{
		UUID:            args.Service,
		Characteristics: []peripheral.CharacteristicDeclaration{args.CharacteristicDeclaration},
	}
	specs, err := decl.Specs()
	if err != nil {
		return nil, err
	}
	h, err := d.p.AddCharacteristic(peripheral.ServiceHandle(args.Service), specs[0])
	if err != nil {
		return nil, err
	}
	return characteristicResult{Characteristic: h}, nil
}

func (d *Dispatcher) addService(ctx context.Context, cmd Command) (interface{}, error) {
	data, err := declarationBytes(cmd.Args)
	if err != nil {
		return nil, err
	}
	h, err := d.p.AddService(ctx, data)
	if err != nil {
		return nil, err
	}
	return serviceResult{Service: h}, nil
}

func (d *Dispatcher) publishService(ctx context.Context, cmd Command) (interface{}, error) {
	var args serviceArgs
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return nil, err
	}
	h := peripheral.ServiceHandle(args.Service)
	if err := d.p.PublishService(ctx, h); err != nil {
		return nil, err
	}
	return serviceResult{Service: h}, nil
}

func (d *Dispatcher) setCharacteristicValue(_ context.Context, cmd Command) (interface{}, error) {
	var args setValueArgs
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return nil, err
	}
	if args.Characteristic == "" {
		return nil, badRequest{fmt.Errorf("characteristic is required")}
	}
	h := peripheral.CharacteristicHandle{Service: args.Service, UUID: args.Characteristic}
	return nil, d.p.SetCharacteristicValue(h, args.Value)
}

func (d *Dispatcher) startAdvertising(ctx context.Context, cmd Command) (interface{}, error) {
	var adv peripheral.Advertisement
	if len(cmd.Args) > 0 {
		if err := decodeArgs(cmd.Args, &adv); err != nil {
			return nil, err
		}
	}
	return nil, d.p.StartAdvertising(ctx, adv)
}

func (d *Dispatcher) stopAdvertising(_ context.Context, _ Command) (interface{}, error) {
	return nil, d.p.StopAdvertising()
}

func (d *Dispatcher) respondToRequest(_ context.Context, cmd Command) (interface{}, error) {
	var args respondArgs
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return nil, err
	}
	return nil, d.p.RespondToRequest(args.RequestID, peripheral.Status(args.Status), args.Value)
}

func (d *Dispatcher) getState(_ context.Context, _ Command) (interface{}, error) {
	return stateResult{State: d.p.State(), Phase: d.p.Phase().String()}, nil
}

func (d *Dispatcher) getServices(_ context.Context, _ Command) (interface{}, error) {
	return d.p.Services(), nil
}

func (d *Dispatcher) listen(c peripheral.Category) actionFunc {
	return func(_ context.Context, cmd Command) (interface{}, error) {
		if bytes.Equal(cmd.ID, nullID) {
			return nil, badRequest{fmt.Errorf("listener registration needs an id")}
		}
		h := peripheral.CallbackHandle(cmd.ID)
		var err error
		switch c {
		case peripheral.CategoryStateChanged:
			err = d.p.SetStateChangedListener(h)
		case peripheral.CategoryValueChanged:
			err = d.p.SetValueChangedListener(h)
		case peripheral.CategoryDescriptorChanged:
			err = d.p.SetDescriptorChangedListener(h)
		case peripheral.CategoryWriteRequest:
			err = d.p.SetWriteRequestListener(h)
		}
		if err != nil {
			return nil, err
		}
		return map[string]peripheral.Category{"listening": c}, nil
	}
}

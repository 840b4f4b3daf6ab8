package testutils

import (
	"bytes"
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a testify mock of ble.Device. AddService records the service before
// consulting expectations, so tests can drive its handlers through Services().
//
//	dev := testutils.NewMockDevice()
//	dev.On("AddService", mock.Anything).Return(nil)
//	dev.AdvertiseUntilStopped()
type MockDevice struct {
	mock.Mock

	mu       sync.Mutex
	services []*ble.Service
}

// NewMockDevice creates a device whose Stop succeeds
func NewMockDevice() *MockDevice {
	m := &MockDevice{}
	m.On("Stop").Return(nil).Maybe()
	return m
}

// AdvertiseUntilStopped makes AdvertiseNameAndServices block until its context ends
func (m *MockDevice) AdvertiseUntilStopped() *MockDevice {
	m.On("AdvertiseNameAndServices", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil)
	return m
}

// Services returns the services added so far
func (m *MockDevice) Services() []*ble.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ble.Service(nil), m.services...)
}

// Characteristic finds an added characteristic by service and characteristic UUID
func (m *MockDevice) Characteristic(service, uuid string) *ble.Characteristic {
	su, cu := ble.MustParse(service), ble.MustParse(uuid)
	for _, s := range m.Services() {
		if !s.UUID.Equal(su) {
			continue
		}
		for _, c := range s.Characteristics {
			if c.UUID.Equal(cu) {
				return c
			}
		}
	}
	return nil
}

func (m *MockDevice) AddService(svc *ble.Service) error {
	m.mu.Lock()
	m.services = append(m.services, svc)
	m.mu.Unlock()
	return m.Called(svc).Error(0)
}

func (m *MockDevice) RemoveAllServices() error {
	m.mu.Lock()
	m.services = nil
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) SetServices(svcs []*ble.Service) error {
	m.mu.Lock()
	m.services = append([]*ble.Service(nil), svcs...)
	m.mu.Unlock()
	return nil
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

func (m *MockDevice) Advertise(ctx context.Context, adv ble.Advertisement) error {
	return nil
}

func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, ss ...ble.UUID) error {
	return m.Called(ctx, name, ss).Error(0)
}

func (m *MockDevice) AdvertiseIBeacon(ctx context.Context, u ble.UUID, major, minor uint16, pwr int8) error {
	return nil
}

func (m *MockDevice) AdvertiseIBeaconData(ctx context.Context, b []byte) error { return nil }

func (m *MockDevice) AdvertiseMfgData(ctx context.Context, id uint16, b []byte) error { return nil }

func (m *MockDevice) AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error {
	return nil
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error { return nil }

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) { return nil, nil }

// ----------------------------
// Central-side fakes
// ----------------------------

// FakeConn is a central connection as seen by GATT server handlers
type FakeConn struct {
	ble.Conn
	addr string
	once sync.Once
	gone chan struct{}
}

// NewFakeConn creates a connection from the central at addr
func NewFakeConn(addr string) *FakeConn {
	return &FakeConn{addr: addr, gone: make(chan struct{})}
}

func (c *FakeConn) RemoteAddr() ble.Addr            { return ble.NewAddr(c.addr) }
func (c *FakeConn) Disconnected() <-chan struct{} { return c.gone }

// Disconnect simulates the central going away
func (c *FakeConn) Disconnect() {
	c.once.Do(func() { close(c.gone) })
}

// FakeRequest is an ATT read/write request
type FakeRequest struct {
	ble.Request
	conn   ble.Conn
	data   []byte
	offset int
}

// NewFakeRequest creates a request from conn
func NewFakeRequest(conn ble.Conn, data []byte, offset int) *FakeRequest {
	return &FakeRequest{conn: conn, data: data, offset: offset}
}

func (r *FakeRequest) Conn() ble.Conn { return r.conn }
func (r *FakeRequest) Data() []byte   { return r.data }
func (r *FakeRequest) Offset() int    { return r.offset }

// FakeResponseWriter captures what a handler answered
type FakeResponseWriter struct {
	ble.ResponseWriter
	status ble.ATTError
	buf    bytes.Buffer
}

func (w *FakeResponseWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *FakeResponseWriter) Status() ble.ATTError        { return w.status }
func (w *FakeResponseWriter) SetStatus(s ble.ATTError)    { w.status = s }
func (w *FakeResponseWriter) Len() int                    { return w.buf.Len() }
func (w *FakeResponseWriter) Cap() int                    { return 512 }

// Bytes returns the written response value
func (w *FakeResponseWriter) Bytes() []byte { return w.buf.Bytes() }

// FakeNotifier records notifications pushed to one subscription
type FakeNotifier struct {
	ble.Notifier
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	writes [][]byte
}

// NewFakeNotifier creates a live subscription; Close ends it
func NewFakeNotifier() *FakeNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &FakeNotifier{ctx: ctx, cancel: cancel}
}

func (n *FakeNotifier) Context() context.Context { return n.ctx }
func (n *FakeNotifier) Cap() int                 { return 20 }

func (n *FakeNotifier) Write(b []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (n *FakeNotifier) Close() error {
	n.cancel()
	return nil
}

// Writes returns every pushed value
func (n *FakeNotifier) Writes() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.writes...)
}

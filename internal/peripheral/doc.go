// Package peripheral implements the peripheral (server) role of a BLE GATT stack.
//
// The application declares services, characteristics and descriptors, publishes
// them through a Stack, advertises, and answers remote centrals:
//   - Registry holds the declared service graph and enforces build-before-publish rules
//   - publication and advertising are asynchronous stack round trips gated by power state
//   - Router delivers stack events to application listeners identified by CallbackHandle
//   - Peripheral serializes all of the above on one event loop goroutine
//
// The radio itself lives behind the Stack interface; see the go-ble subpackage.
package peripheral

// Package central is the public face of the library: a BLE GAP central and
// GATT client with typed handles.
//
//	adapter, err := central.Open(ctx, config.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	defer adapter.Close()
//
//	if err := adapter.WaitAvailable(ctx); err != nil {
//	    return err
//	}
//	scan, err := adapter.Scan(ctx, central.UUID16(0x180d))
//	...
//	for adv, err := range scan.All(ctx) {
//	    ...
//	}
//
// Service, Characteristic and Descriptor handles belong to one connection.
// After the device disconnects every call on them fails with NotConnected,
// even once the device is connected again; discover the services anew.
package central

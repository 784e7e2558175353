// Package ble holds the platform-independent model shared by every backend:
// UUIDs, advertisement data, characteristic properties and the error taxonomy.
package ble

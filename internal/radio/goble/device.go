// Package goble implements radio.Radio on top of go-ble.
package goble

import (
	"context"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/buttond/internal/radio"
)

// Client is the part of ble.Client the radio uses.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadRSSI() int
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Device is the host adapter.
type Device interface {
	Dial(ctx context.Context, address string) (Client, error)
	Scan(ctx context.Context, handler func(radio.Advertisement)) error
}

// DeviceFactory creates the host adapter (can be overridden in tests).
var DeviceFactory = func() (Device, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleDevice{dev: dev}, nil
}

type bleDevice struct {
	dev ble.Device
}

func (d *bleDevice) Dial(ctx context.Context, address string) (Client, error) {
	c, err := d.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *bleDevice) Scan(ctx context.Context, handler func(radio.Advertisement)) error {
	return d.dev.Scan(ctx, true, func(a ble.Advertisement) {
		if !advertisesService(a.Services()) {
			return
		}
		handler(radio.Advertisement{
			Address:     a.Addr().String(),
			Name:        a.LocalName(),
			RSSI:        a.RSSI(),
			Connectable: a.Connectable(),
		})
	})
}

func advertisesService(uuids []ble.UUID) bool {
	for _, u := range uuids {
		if normalizeUUID(u.String()) == radio.ServiceUUID {
			return true
		}
	}
	return false
}

// normalizeUUID converts a UUID string to lowercase without dashes.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

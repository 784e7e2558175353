package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/srg/blecentral/pkg/central"
)

func parseUUIDList(ss []string) ([]central.UUID, error) {
	out := make([]central.UUID, 0, len(ss))
	for _, s := range ss {
		u, err := central.ParseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// target names a characteristic, optionally a descriptor beneath it.
type target struct {
	service        string
	characteristic string
	descriptor     string
}

// resolveTarget finds the characteristic, and the descriptor when one is named.
//
// Without a service the characteristic is searched in every service and must
// be unique; --service disambiguates.
func resolveTarget(ctx context.Context, d *central.Device, t target) (*central.Characteristic, *central.Descriptor, error) {
	charUUID, err := central.ParseUUID(t.characteristic)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	var filter []central.UUID
	if t.service != "" {
		svcUUID, err := central.ParseUUID(t.service)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid service UUID: %w", err)
		}
		filter = append(filter, svcUUID)
	}

	svcs, err := d.DiscoverServices(ctx, filter...)
	if err != nil {
		return nil, nil, fmt.Errorf("service discovery failed: %w", err)
	}
	if t.service != "" && len(svcs) == 0 {
		return nil, nil, central.NewError(central.NotFound, "resolve", "service %s not found", t.service)
	}

	var found []*central.Characteristic
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(ctx, charUUID)
		if err != nil {
			return nil, nil, fmt.Errorf("characteristic discovery failed in service %s: %w", svc, err)
		}
		found = append(found, chars...)
	}

	switch len(found) {
	case 0:
		return nil, nil, central.NewError(central.NotFound, "resolve", "characteristic %s not found", central.FormatUUID(charUUID))
	case 1:
	default:
		var in []string
		for _, c := range found {
			in = append(in, c.Service().String())
		}
		return nil, nil, fmt.Errorf("characteristic %s found in multiple services (%s); use --service to choose",
			central.FormatUUID(charUUID), strings.Join(in, ", "))
	}
	chr := found[0]

	if t.descriptor == "" {
		return chr, nil, nil
	}
	descUUID, err := central.ParseUUID(t.descriptor)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid descriptor UUID: %w", err)
	}
	descs, err := chr.DiscoverDescriptors(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("descriptor discovery failed: %w", err)
	}
	for _, desc := range descs {
		if desc.UUID() == descUUID {
			return chr, desc, nil
		}
	}
	return nil, nil, central.NewError(central.NotFound, "resolve", "descriptor %s not found in characteristic %s",
		central.FormatUUID(descUUID), chr)
}

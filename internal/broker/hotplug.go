package broker

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"
)

// WatchHotplug subscribes to netlink link state changes and reports them
// through onEvent until ctx is done. Real udev-style device hotplug rides
// NETLINK_KOBJECT_UEVENT, a netlink family vishvananda/netlink doesn't
// wrap; since it does wrap RTNETLINK link subscriptions, this watches
// interface add/remove/up/down as the nearest real signal the broker's
// dependency surface can observe, standing in for a device appearing or
// disappearing under a whitelisted prefix (SPEC_FULL §2).
func WatchHotplug(ctx context.Context, onEvent func(netlink.LinkUpdate)) error {
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return fmt.Errorf("broker: netlink subscribe: %w", err)
	}
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return fmt.Errorf("broker: netlink update channel closed")
			}
			onEvent(u)
		}
	}
}

// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ppi

import (
	"fmt"

	"github.com/usbarmory/go-pei/uefi"
)

// Notify registers a list of notification descriptors, the last descriptor
// must carry FlagTerminateList.
//
// Notifications are edge triggered, they fire on later installations of a
// matching PPI and not for interfaces already present in the database.
func (db *Database[S]) Notify(list ...*Notify[S]) error {
	if err := checkList(len(list), func(i int) Flags { return list[i].Flags }, FlagNotifyTypes); err != nil {
		return err
	}

	for i, n := range list {
		if n.Notify == nil {
			return fmt.Errorf("%w: descriptor %d, %v", uefi.ErrInvalidParameter, i, errNoNotify)
		}
	}

	if len(db.notifies)+len(list) > db.MaxNotify {
		return uefi.ErrOutOfResources
	}

	db.notifies = append(db.notifies, list...)

	return nil
}

func (db *Database[S]) call(n *Notify[S], d *Descriptor) {
	var services S

	if db.Services != nil {
		services = db.Services()
	}

	if err := n.Notify(services, n, d); err != nil {
		db.Log.Error(err, "notification failed", "guid", n.GUID)
	}
}

// signal fires callback notifications and queues dispatch notifications for
// newly installed descriptors.
func (db *Database[S]) signal(installed []*Descriptor) {
	for _, d := range installed {
		// notifications registered by callbacks only apply to later
		// installations
		notifies := db.notifies[:len(db.notifies):len(db.notifies)]

		for _, n := range notifies {
			if n.GUID != d.GUID {
				continue
			}

			if n.Flags&FlagNotifyCallback != 0 {
				db.call(n, d)
			}

			if n.Flags&FlagNotifyDispatch != 0 {
				db.queue = append(db.queue, pending[S]{n, d})
			}
		}
	}
}

// NotifyPpi invokes, in registration order, every callback notification
// matching the argument GUID with the most recently installed descriptor of
// that GUID. It returns the number of invoked notifications.
func (db *Database[S]) NotifyPpi(guid uefi.GUID) (n int, err error) {
	var d *Descriptor

	for i := len(db.entries) - 1; i >= 0; i-- {
		if db.entries[i].GUID == guid {
			d = db.entries[i]
			break
		}
	}

	if d == nil {
		return 0, uefi.ErrNotFound
	}

	notifies := db.notifies[:len(db.notifies):len(db.notifies)]

	for _, nd := range notifies {
		if nd.GUID == guid && nd.Flags&FlagNotifyCallback != 0 {
			db.call(nd, d)
			n++
		}
	}

	return
}

// ProcessDispatchNotifications invokes queued dispatch notifications in
// installation order, notifications queued while draining are processed
// as well.
func (db *Database[S]) ProcessDispatchNotifications() (n int) {
	for len(db.queue) > 0 {
		p := db.queue[0]
		db.queue = db.queue[1:]

		db.call(p.notify, p.ppi)
		n++
	}

	return
}

// Pending returns the number of queued dispatch notifications.
func (db *Database[S]) Pending() int {
	return len(db.queue)
}

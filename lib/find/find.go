// Package find locates the rig's USB serial adapters through sysfs: the
// Prologix GPIB controller, the TC300, the DLC pro and the RS-422 converter
// of the wavelength meter.
package find

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("no matching serial adapter")
	ErrAmbiguous = errors.New("more than one serial adapter")
)

// SysClassTTY is where the kernel lists tty devices.
const SysClassTTY = "/sys/class/tty"

// Adapter is a USB serial device as sysfs describes it.
type Adapter struct {
	TTY     string // e.g. ttyUSB0
	SysPath string
	// Vendor and Product are the hex USB ids.
	Vendor, Product     string
	Manufacturer, Model string
	Serial              string
}

// Dev is the device node.
func (a Adapter) Dev() string { return "/dev/" + a.TTY }

func (a Adapter) String() string {
	return a.Dev() + " " + a.Vendor + ":" + a.Product + " " + a.Manufacturer + " " + a.Model + " " + a.Serial
}

// Match selects adapters.
type Match func(Adapter) bool

// Manufacturer matches adapters whose manufacturer string contains s.
func Manufacturer(s string) Match {
	return func(a Adapter) bool { return strings.Contains(a.Manufacturer, s) }
}

// Model matches adapters whose product string contains s.
func Model(s string) Match {
	return func(a Adapter) bool { return strings.Contains(a.Model, s) }
}

// Serial matches one adapter by serial number.
func Serial(s string) Match {
	return func(a Adapter) bool { return a.Serial == s }
}

// Adapters on this rig.
var (
	Prologix = Manufacturer("Prologix")
	TC300    = Model("TC300")
	DLCPro   = Manufacturer("TOPTICA")
	RS422    = Model("RS422")
)

// Find returns the device node of the first adapter m accepts. With a nil
// m there must be exactly one USB serial adapter.
func Find(m Match) (string, error) {
	return FindIn(SysClassTTY, m)
}

// FindIn is Find reading the tty class directory dir.
func FindIn(dir string, m Match) (string, error) {
	all, err := Scan(dir)
	if err != nil {
		return "", err
	}
	if m == nil {
		switch len(all) {
		case 0:
			return "", ErrNotFound
		case 1:
			return all[0].Dev(), nil
		}
		return "", errors.Wrapf(ErrAmbiguous, "%d found", len(all))
	}
	for _, a := range all {
		if m(a) {
			return a.Dev(), nil
		}
	}
	return "", errors.Wrapf(ErrNotFound, "among %d", len(all))
}

// Scan lists the USB serial adapters under the tty class directory dir.
// Class entries are symlinks into the device tree, e.g.
// ttyACM0 -> /sys/devices/.../usb1/1-10/1-10:1.0/tty/ttyACM0, whose device
// link is the USB interface; the USB device with the descriptor strings is
// its parent.
func Scan(dir string) ([]Adapter, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Adapter
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		link := filepath.Join(dir, e.Name())
		abs, err := filepath.EvalSymlinks(link)
		if err != nil {
			log.Printf("find: skipping %s: %s", link, err)
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		iface, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Printf("find: %s has no device link: %s", abs, err)
			continue
		}
		a := Adapter{TTY: e.Name(), SysPath: abs}
		if err := a.readDescriptors(filepath.Dir(iface)); err != nil {
			log.Printf("find: %s: %s", abs, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// readDescriptors fills the ids and strings from the USB device directory.
// Missing files are skipped; the last other error is returned after every
// file was tried.
func (a *Adapter) readDescriptors(dev string) error {
	var err error
	for name, dst := range map[string]*string{
		"idVendor":     &a.Vendor,
		"idProduct":    &a.Product,
		"manufacturer": &a.Manufacturer,
		"product":      &a.Model,
		"serial":       &a.Serial,
	} {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil {
			if !errors.Is(rerr, os.ErrNotExist) {
				err = rerr
			}
			continue
		}
		*dst = strings.TrimSpace(string(b))
	}
	return err
}

// Package hal detects the platform devices and connects them to the kernel.
package hal

import (
	"fmt"
	"sort"

	"clockos/device"
	"clockos/device/pic"
	"clockos/device/pio"
	"clockos/device/pit"
	"clockos/kernel"
	"clockos/kernel/cpu"

	hclog "github.com/hashicorp/go-hclog"
)

var (
	// ErrNoPortBus is returned when hardware detection did not find a
	// port bus.
	ErrNoPortBus = &kernel.Error{Module: "hal", Message: "no port bus detected"}

	// ErrNoInterruptController is returned when hardware detection did
	// not find an interrupt controller.
	ErrNoInterruptController = &kernel.Error{Module: "hal", Message: "no interrupt controller detected"}
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	bus   *pio.Bus
	pic   *pic.PIC
	timer *pit.PIT

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices

	// portRanges lists the ports each simulated device decodes.
	portRanges = map[string][2]uint16{
		"i8259-master": {pic.MasterCommandPort, pic.MasterDataPort},
		"i8259-slave":  {pic.SlaveCommandPort, pic.SlaveDataPort},
		"i8254":        {0x40, 0x43},
	}
)

// PortBus returns the active port bus.
func PortBus() *pio.Bus {
	return devices.bus
}

// InterruptController returns the active interrupt controller.
func InterruptController() *pic.PIC {
	return devices.pic
}

// Timer returns the active interval timer.
func Timer() *pit.PIT {
	return devices.timer
}

// ActiveDrivers returns the drivers that were successfully initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers. Any previously detected devices are shut down first.
func DetectHardware(logger hclog.Logger) *kernel.Error {
	Shutdown()

	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Stable(drivers)

	probe(drivers, logger)

	if devices.bus == nil {
		return ErrNoPortBus
	}
	if devices.pic == nil {
		return ErrNoInterruptController
	}
	return nil
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList, logger hclog.Logger) {
	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		major, minor, patch := drv.DriverVersion()
		drvLogger := logger.Named(drv.DriverName())
		name := drv.DriverName()
		version := fmt.Sprintf("%d.%d.%d", major, minor, patch)

		if err := drv.DriverInit(drvLogger); err != nil {
			logger.Error("init failed", "driver", name, "version", version, "err", err.Message)
			continue
		}

		if err := onDriverInit(drv); err != nil {
			logger.Error("attach failed", "driver", name, "version", version, "err", err.Error())
			continue
		}

		logger.Info("initialized", "driver", name, "version", version)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. Devices are mapped onto the port bus, which
// is always detected first, and the timer is wired to the interrupt
// controller.
func onDriverInit(drv device.Driver) *kernel.Error {
	switch drvImpl := drv.(type) {
	case *pio.Bus:
		if devices.bus != nil {
			return nil
		}
		devices.bus = drvImpl
		cpu.AttachPortBus(drvImpl)
	case *pic.PIC:
		if devices.pic != nil {
			return nil
		}
		if err := mapPorts(drvImpl, "i8259-master", "i8259-slave"); err != nil {
			return err
		}
		devices.pic = drvImpl
		if devices.timer != nil {
			devices.timer.Connect(drvImpl)
		}
	case *pit.PIT:
		if devices.timer != nil {
			return nil
		}
		if err := mapPorts(drvImpl, "i8254"); err != nil {
			return err
		}
		devices.timer = drvImpl
		if devices.pic != nil {
			drvImpl.Connect(devices.pic)
		}
	}

	return nil
}

func mapPorts(dev cpu.PortWriter, ranges ...string) *kernel.Error {
	if devices.bus == nil {
		return ErrNoPortBus
	}

	for _, name := range ranges {
		r := portRanges[name]
		if err := devices.bus.Map(r[0], r[1], dev); err != nil {
			return err
		}
	}

	return nil
}

// ConnectInterrupts routes interrupts raised by the interrupt controller to
// dispatcher through the supplied CPU.
func ConnectInterrupts(c pic.CPU, dispatcher pic.Dispatcher) *kernel.Error {
	if devices.pic == nil {
		return ErrNoInterruptController
	}

	devices.pic.Connect(c, dispatcher)
	return nil
}

// Shutdown stops the detected devices and detaches them from the CPU.
func Shutdown() {
	if devices.timer != nil {
		devices.timer.Stop()
	}
	if devices.bus != nil {
		cpu.AttachPortBus(nil)
	}

	devices = managedDevices{}
}

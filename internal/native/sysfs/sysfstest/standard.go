package sysfstest

// A small machine: one AHCI controller with a disk (one partition) and a
// cdrom, a loop device, a wired NIC, a NIC still being renamed, loopback, a
// tty and a cpu.
var (
	AHCI = Device{
		DevPath:    "/devices/pci0000:00/0000:00:1f.2",
		Subsystem:  "pci",
		Bus:        true,
		Driver:     "ahci",
		Uevent:     map[string]string{"PCI_ID": "8086:1C03", "PCI_SLOT_NAME": "0000:00:1f.2"},
		Attributes: map[string]string{"numa_node": "0", "vendor": "0x8086"},
	}
	SCSIDisk = Device{
		DevPath:    "/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0",
		Subsystem:  "scsi",
		Bus:        true,
		Driver:     "sd",
		Uevent:     map[string]string{"DEVTYPE": "scsi_device"},
		Attributes: map[string]string{"model": "Samsung SSD 860", "vendor": "ATA", "wwid": "naa.5002538e40a1b2c3"},
	}
	SDA = Device{
		DevPath:    "/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sda",
		Subsystem:  "block",
		Uevent:     map[string]string{"MAJOR": "8", "MINOR": "0", "DEVNAME": "sda", "DEVTYPE": "disk"},
		Attributes: map[string]string{"size": "976773168", "removable": "0", "ro": "0"},
		DB: &DB{
			Links:      []string{"disk/by-id/ata-Samsung_SSD_860_S3Z9NB0K"},
			Properties: map[string]string{"ID_TYPE": "disk", "ID_BUS": "ata", "ID_SERIAL_SHORT": "S3Z9NB0K"},
			Tags:       []string{"systemd"},
			Usec:       "1234567",
		},
	}
	SDA1 = Device{
		DevPath:    "/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sda/sda1",
		Subsystem:  "block",
		Uevent:     map[string]string{"MAJOR": "8", "MINOR": "1", "DEVNAME": "sda1", "DEVTYPE": "partition", "PARTN": "1", "PARTNAME": "data"},
		Attributes: map[string]string{"size": "976771072", "partition": "1", "ro": "0"},
		DB: &DB{
			Links:      []string{"disk/by-partlabel/data"},
			Properties: map[string]string{"ID_FS_TYPE": "ext4", "ID_PART_ENTRY_NAME": "data"},
			Tags:       []string{"systemd"},
			Usec:       "1234600",
		},
	}
	SR0 = Device{
		DevPath:    "/devices/pci0000:00/0000:00:1f.2/ata2/host1/target1:0:0/1:0:0:0/block/sr0",
		Subsystem:  "block",
		Uevent:     map[string]string{"MAJOR": "11", "MINOR": "0", "DEVNAME": "sr0", "DEVTYPE": "disk"},
		Attributes: map[string]string{"size": "2097151", "removable": "1", "ro": "0"},
		DB: &DB{
			Links:      []string{"cdrom"},
			Properties: map[string]string{"ID_TYPE": "cd", "ID_CDROM": "1"},
			Tags:       []string{"systemd", "uaccess"},
			Usec:       "1234700",
		},
	}
	Loop0 = Device{
		DevPath:    "/devices/virtual/block/loop0",
		Subsystem:  "block",
		Uevent:     map[string]string{"MAJOR": "7", "MINOR": "0", "DEVNAME": "loop0", "DEVTYPE": "disk"},
		Attributes: map[string]string{"size": "0", "removable": "0", "ro": "0"},
	}
	Eth0 = Device{
		DevPath:    "/devices/pci0000:00/0000:00:19.0/net/eth0",
		Subsystem:  "net",
		Uevent:     map[string]string{"INTERFACE": "eth0", "IFINDEX": "2"},
		Attributes: map[string]string{"operstate": "up", "speed": "1000", "mtu": "1500"},
		DB: &DB{
			Properties: map[string]string{"ID_NET_NAME_PATH": "enp0s25", "ID_NET_DRIVER": "e1000e"},
			Tags:       []string{"systemd"},
			Usec:       "1234800",
		},
	}
	Eth1 = Device{
		DevPath:    "/devices/virtual/net/eth1",
		Subsystem:  "net",
		Uevent:     map[string]string{"INTERFACE": "eth1", "IFINDEX": "3"},
		Attributes: map[string]string{"operstate": "down", "mtu": "1500"},
	}
	Lo = Device{
		DevPath:    "/devices/virtual/net/lo",
		Subsystem:  "net",
		Uevent:     map[string]string{"INTERFACE": "lo", "IFINDEX": "1"},
		Attributes: map[string]string{"operstate": "unknown", "mtu": "65536"},
		DB:         &DB{Usec: "1000"},
	}
	TTY0 = Device{
		DevPath:   "/devices/virtual/tty/tty0",
		Subsystem: "tty",
		Uevent:    map[string]string{"MAJOR": "4", "MINOR": "0", "DEVNAME": "tty0"},
		DB:        &DB{Usec: "1100"},
	}
	CPU0 = Device{
		DevPath:    "/devices/system/cpu/cpu0",
		Subsystem:  "cpu",
		Bus:        true,
		Attributes: map[string]string{"online": "1"},
	}
)

// Standard lists the fixture devices parents first.
var Standard = []Device{AHCI, SCSIDisk, SDA, SDA1, SR0, Loop0, Eth0, Eth1, Lo, TTY0, CPU0}

// BuildStandard creates a tree holding Standard.
func BuildStandard(root string) (*Tree, error) {
	return Build(root, Standard...)
}

package registry

import (
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device_registry.json")

	reg, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return reg, path
}

func TestNew(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if reg == nil {
		t.Fatal("Registry is nil")
	}
}

func TestGetDeviceID_USB(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info := DeviceInfo{
		Type:        TypeUSB,
		VID:         0x04B8,
		PID:         0x0E15,
		Description: "Epson TM-T20",
	}

	// First call should create new ID
	id1 := reg.GetDeviceID(info)
	if id1 == "" {
		t.Error("Expected non-empty device ID")
	}

	// Second call with same info should return same ID
	id2 := reg.GetDeviceID(info)
	if id1 != id2 {
		t.Errorf("Expected same ID for same device: %s != %s", id1, id2)
	}
}

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		name string
		info DeviceInfo
		want string
	}{
		{"usb", DeviceInfo{Type: TypeUSB, VID: 0x0416, PID: 0x5011}, "usb:0416:5011"},
		{"ble lowercased", DeviceInfo{Type: TypeBLE, Address: "AA:BB:CC:DD:EE:FF"}, "ble:aa:bb:cc:dd:ee:ff"},
		{"serial", DeviceInfo{Type: TypeSerial, Device: "/dev/rfcomm0"}, "serial:/dev/rfcomm0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.IdentityKey(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	hashed := DeviceInfo{Type: TypeUSB, Description: "no ids"}.IdentityKey()
	if len(hashed) < 5 || hashed[:5] != "hash:" {
		t.Errorf("Expected hash fallback, got %s", hashed)
	}
}

func TestSetAndGetDeviceName(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := reg.GetDeviceID(DeviceInfo{Type: TypeBLE, Address: "aa:bb", Description: "MTP-II"})

	if !reg.SetDeviceName(id, "Kitchen Printer") {
		t.Error("Expected successful name set")
	}

	if name := reg.GetDeviceName(id); name != "Kitchen Printer" {
		t.Errorf("Expected 'Kitchen Printer', got '%s'", name)
	}

	if reg.SetDeviceName("missing", "x") {
		t.Error("Expected rename of unknown device to fail")
	}
}

func TestGrant(t *testing.T) {
	reg, _ := newTestRegistry(t)

	info := DeviceInfo{Type: TypeUSB, VID: 0x0FE6, PID: 0x811E, Description: "POS-80"}
	if reg.IsGranted(info) {
		t.Fatal("Expected new device to be ungranted")
	}

	id := reg.Grant(info)
	if !reg.IsGranted(info) {
		t.Error("Expected device to be granted")
	}
	if id != reg.GetDeviceID(info) {
		t.Error("Expected Grant to return the device ID")
	}

	if !reg.Revoke(id) {
		t.Error("Expected successful revoke")
	}
	if reg.IsGranted(info) {
		t.Error("Expected device to be ungranted after revoke")
	}
}

func TestGetDeviceInfo(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := reg.GetDeviceID(DeviceInfo{Type: TypeUSB, VID: 0x04B8, PID: 0x0E15, Description: "Test Printer"})
	reg.SetDeviceName(id, "Front Counter")

	entry := reg.GetDeviceInfo(id)
	if entry == nil {
		t.Fatal("Expected device info, got nil")
	}

	if entry.Type != TypeUSB {
		t.Errorf("Expected type 'usb', got '%s'", entry.Type)
	}
	if entry.VID != 0x04B8 {
		t.Errorf("Expected VID 0x04B8, got 0x%04X", entry.VID)
	}
	if entry.DisplayName() != "Front Counter" {
		t.Errorf("Expected name 'Front Counter', got '%s'", entry.DisplayName())
	}
}

func TestRemoveDevice(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id := reg.GetDeviceID(DeviceInfo{Type: TypeUSB, VID: 0x1234, PID: 0x5678, Description: "Test"})

	if !reg.RemoveDevice(id) {
		t.Error("Expected successful removal")
	}

	if entry := reg.GetDeviceInfo(id); entry != nil {
		t.Error("Expected nil after removal")
	}
}

func TestPersistence(t *testing.T) {
	reg1, path := newTestRegistry(t)

	info := DeviceInfo{Type: TypeUSB, VID: 0xAAAA, PID: 0xBBBB, Description: "Persistent Printer"}
	id1 := reg1.Grant(info)
	reg1.SetDeviceName(id1, "Persistent Name")

	// Create new registry instance (simulating app restart)
	reg2, err := New(path)
	if err != nil {
		t.Fatalf("Failed to reload registry: %v", err)
	}

	if id2 := reg2.GetDeviceID(info); id1 != id2 {
		t.Errorf("Expected same ID after reload: %s != %s", id1, id2)
	}
	if name := reg2.GetDeviceName(id1); name != "Persistent Name" {
		t.Errorf("Expected name to persist, got '%s'", name)
	}
	if !reg2.IsGranted(info) {
		t.Error("Expected grant to persist")
	}
}

func TestList(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.GetDeviceID(DeviceInfo{Type: TypeUSB, VID: 0x1111, PID: 0x2222, Description: "Printer 1"})
	reg.GetDeviceID(DeviceInfo{Type: TypeSerial, Device: "/dev/rfcomm0", Description: "Printer 2"})

	all := reg.List()
	if len(all) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(all))
	}
	if all[0].IdentityKey != "serial:/dev/rfcomm0" {
		t.Errorf("Expected sorted by identity key, got %s first", all[0].IdentityKey)
	}
}

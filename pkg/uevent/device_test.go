//go:build linux

package uevent

import "testing"

func TestNewSimpleDevice(t *testing.T) {
	tests := []struct {
		name           string
		input          []byte
		wantSubsystem  string
		wantDevtype    string
		wantHasDevtype bool
		wantTags       []string
	}{
		{
			name:          "empty input",
			input:         []byte{},
			wantSubsystem: "",
		},
		{
			name:           "subsystem and devtype",
			input:          []byte("SUBSYSTEM=block\x00DEVTYPE=disk\x00"),
			wantSubsystem:  "block",
			wantDevtype:    "disk",
			wantHasDevtype: true,
		},
		{
			name:          "tags",
			input:         []byte("SUBSYSTEM=net\x00TAGS=:seat:systemd:\x00"),
			wantSubsystem: "net",
			wantTags:      []string{"seat", "systemd"},
		},
		{
			name:          "malformed line is skipped",
			input:         []byte("SUBSYSTEM=usb\x00NOEQUALSIGN\x00DEVTYPE=usb_device\x00"),
			wantSubsystem: "usb",
			wantDevtype:   "usb_device",
			wantHasDevtype: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewSimpleDevice(tt.input)
			if err != nil {
				t.Fatalf("NewSimpleDevice() error: %v", err)
			}
			if got := d.Subsystem(); got != tt.wantSubsystem {
				t.Errorf("Subsystem() = %q, want %q", got, tt.wantSubsystem)
			}
			devtype, ok := d.Devtype()
			if ok != tt.wantHasDevtype {
				t.Errorf("Devtype() ok = %v, want %v", ok, tt.wantHasDevtype)
			}
			if ok && devtype != tt.wantDevtype {
				t.Errorf("Devtype() = %q, want %q", devtype, tt.wantDevtype)
			}
			for _, tag := range tt.wantTags {
				if !d.HasTag(tag) {
					t.Errorf("expected tag %q to be present", tag)
				}
			}
		})
	}
}

func TestSimpleDeviceInitializedFlag(t *testing.T) {
	d, err := NewSimpleDevice([]byte("SUBSYSTEM=block\x00"))
	if err != nil {
		t.Fatalf("NewSimpleDevice() error: %v", err)
	}
	if d.Initialized() {
		t.Error("a freshly parsed device should not be initialized")
	}
	d.SetInitialized()
	if !d.Initialized() {
		t.Error("SetInitialized() should make Initialized() report true")
	}
}

func TestNewSimpleDeviceFromFieldsRoundTrip(t *testing.T) {
	d := NewSimpleDeviceFromFields("block", "disk", []string{"seat", "systemd"}, map[string]string{"DEVNAME": "sda"})

	reparsed, err := NewSimpleDevice(d.Properties())
	if err != nil {
		t.Fatalf("NewSimpleDevice(d.Properties()) error: %v", err)
	}
	if reparsed.Subsystem() != "block" {
		t.Errorf("Subsystem() = %q, want %q", reparsed.Subsystem(), "block")
	}
	devtype, ok := reparsed.Devtype()
	if !ok || devtype != "disk" {
		t.Errorf("Devtype() = (%q, %v), want (%q, true)", devtype, ok, "disk")
	}
	if !reparsed.HasTag("seat") || !reparsed.HasTag("systemd") {
		t.Error("expected both seat and systemd tags to round-trip")
	}
}

func TestNewSimpleDeviceFromFieldsNoDevtype(t *testing.T) {
	d := NewSimpleDeviceFromFields("net", "", nil, nil)
	if _, ok := d.Devtype(); ok {
		t.Error("expected no devtype when none was given")
	}
	if len(d.Tags()) != 0 {
		t.Error("expected no tags when none were given")
	}
}

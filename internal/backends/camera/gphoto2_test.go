package camera

import "testing"

func TestParseAutoDetect(t *testing.T) {
	out := []byte(`Model                          Port
----------------------------------------------------------
Canon EOS 600D                 usb:001,004
Nikon DSC D5300                usb:002,007
`)

	got := parseAutoDetect(out)
	if len(got) != 2 {
		t.Fatalf("detected %d cameras, want 2", len(got))
	}
	if got[0].Model != "Canon EOS 600D" || got[0].Port != "usb:001,004" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Model != "Nikon DSC D5300" || got[1].Port != "usb:002,007" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestParseAutoDetectEmpty(t *testing.T) {
	out := []byte("Model                          Port\n---------------------------------\n")
	if got := parseAutoDetect(out); len(got) != 0 {
		t.Errorf("detected %v, want none", got)
	}
}

func TestParseAbilities(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Abilities
	}{
		{
			name: "preview and image",
			out: `Abilities for camera             : Canon EOS 600D
Serial port support              : no
USB support                      : yes
Capture choices                  :
                                 : Image
                                 : Preview
                                 : Trigger Capture
Configuration support            : yes
`,
			want: Abilities{Preview: true, Capture: true},
		},
		{
			name: "capture not supported",
			out: `Abilities for camera             : Generic PTP
Capture choices                  : Capture not supported by the driver
Configuration support            : no
`,
			want: Abilities{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseAbilities([]byte(tt.out)); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCapturePath(t *testing.T) {
	out := []byte("New file is in location /store_00020001/DCIM/100CANON/IMG_1234.JPG on the camera\n")

	path, ok := parseCapturePath(out)
	if !ok || path != "/store_00020001/DCIM/100CANON/IMG_1234.JPG" {
		t.Errorf("got %q, %v", path, ok)
	}
	if _, ok := parseCapturePath([]byte("*** Error ***\n")); ok {
		t.Error("parsed a path from an error message")
	}
}

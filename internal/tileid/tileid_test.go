package tileid

import "testing"

func TestCoordValidate(t *testing.T) {
	cases := []struct {
		name    string
		c       Coord
		wantErr bool
	}{
		{"origin", Coord{Z: 0, X: 0, Y: 0}, false},
		{"max zoom boundary", Coord{Z: 30, X: 0, Y: 0}, false},
		{"zoom too high", Coord{Z: 31, X: 0, Y: 0}, true},
		{"x out of range", Coord{Z: 2, X: 4, Y: 0}, true},
		{"y out of range", Coord{Z: 2, X: 0, Y: 4}, true},
		{"valid z2", Coord{Z: 2, X: 3, Y: 3}, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInvertY(t *testing.T) {
	cases := []struct {
		z    uint8
		y    uint32
		want uint32
	}{
		{0, 0, 0},
		{1, 0, 1},
		{1, 1, 0},
		{3, 0, 7},
		{3, 7, 0},
	}
	for _, tt := range cases {
		got := InvertY(tt.z, tt.y)
		if got != tt.want {
			t.Errorf("InvertY(%d,%d) = %d, want %d", tt.z, tt.y, got, tt.want)
		}
	}
	// InvertY must be its own inverse.
	for z := uint8(0); z < 6; z++ {
		n := uint32(1) << z
		for y := uint32(0); y < n; y++ {
			if InvertY(z, InvertY(z, y)) != y {
				t.Errorf("InvertY not self-inverse at z=%d y=%d", z, y)
			}
		}
	}
}

func TestBoundsZoom0CoversWholeEarth(t *testing.T) {
	e := Bounds(0, 0, 0)
	if e.MinX != -originShift || e.MaxX != originShift {
		t.Errorf("zoom0 x bounds = [%f, %f], want [%f, %f]", e.MinX, e.MaxX, -originShift, originShift)
	}
	if e.MinY != -originShift || e.MaxY != originShift {
		t.Errorf("zoom0 y bounds = [%f, %f], want [%f, %f]", e.MinY, e.MaxY, -originShift, originShift)
	}
}

func TestBoundsTopLeftTileIsNorthwest(t *testing.T) {
	// XYZ (0,0) at zoom 1 is the northwest quadrant: negative x, positive y.
	e := Bounds(1, 0, 0)
	if e.MinX != -originShift {
		t.Errorf("expected MinX at west edge, got %f", e.MinX)
	}
	if e.MaxY != originShift {
		t.Errorf("expected MaxY at north edge, got %f", e.MaxY)
	}
}

func TestDetectPNG(t *testing.T) {
	data := append([]byte("\x89PNG\r\n\x1a\n"), []byte{0, 0, 0, 0}...)
	info, ok := Detect(data)
	if !ok || info.Format != FormatPng {
		t.Fatalf("Detect PNG = %+v, %v", info, ok)
	}
}

func TestDetectJPEG(t *testing.T) {
	data := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	info, ok := Detect(data)
	if !ok || info.Format != FormatJpeg {
		t.Fatalf("Detect JPEG = %+v, %v", info, ok)
	}
}

func TestDetectWEBP(t *testing.T) {
	data := append([]byte("RIFF\x00\x00\x00\x00WEBP"), []byte{0, 0}...)
	info, ok := Detect(data)
	if !ok || info.Format != FormatWebp {
		t.Fatalf("Detect WEBP = %+v, %v", info, ok)
	}
}

func TestDetectGzip(t *testing.T) {
	data := []byte{0x1F, 0x8B, 0x08, 0x00}
	info, ok := Detect(data)
	if !ok || info.Encoding != EncodingGzip {
		t.Fatalf("Detect gzip = %+v, %v", info, ok)
	}
}

func TestDetectMVT(t *testing.T) {
	data := []byte{0x0A, 0x05, 'l', 'a', 'y', 'e', 'r'}
	info, ok := Detect(data)
	if !ok || info.Format != FormatMvt {
		t.Fatalf("Detect MVT = %+v, %v", info, ok)
	}
}

func TestDetectEmpty(t *testing.T) {
	if _, ok := Detect(nil); ok {
		t.Fatal("Detect(nil) should report not-ok")
	}
}

func TestFormatIsRaster(t *testing.T) {
	if !FormatPng.IsRaster() {
		t.Error("PNG should be raster")
	}
	if FormatMvt.IsRaster() {
		t.Error("MVT should not be raster")
	}
}

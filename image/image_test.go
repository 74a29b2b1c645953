package image

import (
	"encoding/binary"
	"testing"
)

func TestBytesImageValidAndGet(t *testing.T) {
	im := OpenBytes("test", []byte("hello\x00world"))

	if !im.Valid(0, 5) {
		t.Fatal("expected [0,5) to be valid")
	}
	if im.Valid(0, 100) {
		t.Fatal("expected oversized range to be invalid")
	}

	dst := make([]byte, 5)
	if err := im.Get(dst, 0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(dst) != "hello" {
		t.Fatalf("got %q", dst)
	}
}

func TestBytesImageStrDupAndStrlen(t *testing.T) {
	im := OpenBytes("test", []byte("hello\x00world\x00"))

	s, err := im.StrDup(0)
	if err != nil || s != "hello" {
		t.Fatalf("StrDup(0) = %q, %v", s, err)
	}

	n, err := im.Strlen(0)
	if err != nil || n != 5 {
		t.Fatalf("Strlen(0) = %d, %v", n, err)
	}

	s2, err := im.StrDup(6)
	if err != nil || s2 != "world" {
		t.Fatalf("StrDup(6) = %q, %v", s2, err)
	}
}

func TestBytesImageStrcmpC(t *testing.T) {
	im := OpenBytes("test", []byte("GNU\x00"))
	cmp, err := im.StrcmpC(0, "GNU")
	if err != nil || cmp != 0 {
		t.Fatalf("StrcmpC = %d, %v", cmp, err)
	}
	cmp, err = im.StrcmpC(0, "gnu")
	if err != nil || cmp == 0 {
		t.Fatalf("expected mismatch, got %d, %v", cmp, err)
	}
}

func TestBytesImageU32LittleEndian(t *testing.T) {
	im := OpenBytes("test", []byte{0x01, 0x02, 0x03, 0x04})
	v, err := im.GetU32(0, binary.LittleEndian)
	if err != nil {
		t.Fatalf("GetU32: %v", err)
	}
	if v != 0x04030201 {
		t.Fatalf("got %#x", v)
	}
}

func TestCRC32Cached(t *testing.T) {
	im := OpenBytes("test", []byte("some data"))
	c1, err := im.CRC32()
	if err != nil {
		t.Fatalf("CRC32: %v", err)
	}
	c2, _ := im.CRC32()
	if c1 != c2 {
		t.Fatalf("expected stable crc, got %#x then %#x", c1, c2)
	}
}

func TestSliceInvalid(t *testing.T) {
	if InvalidSlice.Present() {
		t.Fatal("InvalidSlice should not be present")
	}
	if !InvalidSlice.Valid() {
		t.Fatal("InvalidSlice should be valid (vacuously)")
	}
}

func TestOutOfBoundsRead(t *testing.T) {
	im := OpenBytes("test", []byte{1, 2, 3})
	if _, err := im.GetU32(0, binary.LittleEndian); err != ErrOutsideBoundary {
		t.Fatalf("expected ErrOutsideBoundary, got %v", err)
	}
}

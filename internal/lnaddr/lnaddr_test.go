package lnaddr

import "testing"

func TestDecodeIPv4(t *testing.T) {
	region := []byte{typeIPv4, 127, 0, 0, 1, 0x1F, 0x90} // port 8080
	addrs, err := Decode(region)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1:8080" {
		t.Fatalf("got %v", addrs)
	}
}

func TestDecodeIPv6(t *testing.T) {
	body := make([]byte, 16)
	body[15] = 1
	region := append([]byte{typeIPv6}, body...)
	region = append(region, 0, 80)
	addrs, err := Decode(region)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "[::1]:80" {
		t.Fatalf("got %v", addrs)
	}
}

func TestDecodeDNS(t *testing.T) {
	host := "example.com"
	region := []byte{typeDNS, byte(len(host))}
	region = append(region, host...)
	region = append(region, 0x23, 0x28) // port 9000
	addrs, err := Decode(region)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "example.com:9000" {
		t.Fatalf("got %v", addrs)
	}
}

func TestDecodeUnknownTypeStopsParsing(t *testing.T) {
	region := []byte{typeIPv4, 1, 2, 3, 4, 0, 1, 200, 0xDE, 0xAD, 0xBE, 0xEF}
	addrs, err := Decode(region)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "1.2.3.4:1" {
		t.Fatalf("got %v", addrs)
	}
}

func TestDecodeTruncated(t *testing.T) {
	region := []byte{typeIPv4, 1, 2, 3} // missing rest + port
	if _, err := Decode(region); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeTorV3(t *testing.T) {
	body := make([]byte, 35)
	for i := range body {
		body[i] = byte(i)
	}
	region := append([]byte{typeTorV3}, body...)
	region = append(region, 0x1F, 0x90)
	addrs, err := Decode(region)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 {
		t.Fatalf("got %v", addrs)
	}
}

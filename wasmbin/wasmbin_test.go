package wasmbin

import (
	"bytes"
	"errors"
	"testing"
)

func TestIsModule(t *testing.T) {
	if !IsModule(EmptyModule()) {
		t.Error("EmptyModule() not recognized as module")
	}
	if IsModule(nil) {
		t.Error("nil recognized as module")
	}
	if IsModule([]byte("\x00asm")) {
		t.Error("truncated header recognized as module")
	}

	bad := EmptyModule()
	bad[4] = 2
	if IsModule(bad) {
		t.Error("unsupported version recognized as module")
	}
}

func TestCustomSectionRoundTrip(t *testing.T) {
	payload := []byte("export demo:greeter@1.0.0 {\n greet: func(name: string) -> string\n}\n")

	b, err := AppendCustomSection(EmptyModule(), ContractSection, payload)
	if err != nil {
		t.Fatalf("AppendCustomSection: %v", err)
	}

	got, err := CustomSection(b, ContractSection)
	if err != nil {
		t.Fatalf("CustomSection: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: %q", got)
	}

	text, err := Contract(b)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	if text != string(payload) {
		t.Errorf("Contract() = %q", text)
	}
}

func TestCustomSectionSkipsOtherSections(t *testing.T) {
	b, err := AppendCustomSection(EmptyModule(), "other", []byte("noise"))
	if err != nil {
		t.Fatal(err)
	}
	b, err = AppendCustomSection(b, ContractSection, []byte("contract"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := CustomSection(b, ContractSection)
	if err != nil {
		t.Fatalf("CustomSection: %v", err)
	}
	if string(got) != "contract" {
		t.Errorf("got %q", got)
	}
}

func TestCustomSectionMissing(t *testing.T) {
	_, err := CustomSection(EmptyModule(), ContractSection)
	if !errors.Is(err, ErrNoSection) {
		t.Errorf("err = %v, want ErrNoSection", err)
	}
}

func TestCustomSectionTruncated(t *testing.T) {
	b, err := AppendCustomSection(EmptyModule(), ContractSection, []byte("contract"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = CustomSection(b[:len(b)-3], ContractSection)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

func TestLargePayloadLength(t *testing.T) {
	// Payload over 127 bytes forces a multi-byte LEB128 section size.
	payload := bytes.Repeat([]byte{'x'}, 300)

	b, err := AppendCustomSection(EmptyModule(), ContractSection, payload)
	if err != nil {
		t.Fatal(err)
	}

	got, err := CustomSection(b, ContractSection)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("large payload mismatch")
	}
}
